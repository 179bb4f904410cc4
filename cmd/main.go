package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"shorts-publisher/internal"
	"shorts-publisher/internal/credentials"
	"shorts-publisher/internal/logging"
	"shorts-publisher/internal/notify"
	"shorts-publisher/internal/s3"
	"shorts-publisher/internal/uploaders"
)

func main() {
	videoPath := flag.String("video", "", "Path to the video file, or s3://key")
	caption := flag.String("caption", "", "Video caption, used as the title")
	description := flag.String("description", "", "Video description")
	label := flag.String("label", "", "Label shown in the Telegram report")
	flag.Parse()

	// Load .env file if it exists (try multiple paths)
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		_ = godotenv.Load(path)
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	log.SetDebug(cfg.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, log, *videoPath, *caption, *description, *label); err != nil {
		log.Errorf("%v", err)
		log.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg internal.Config, log *logging.Logger, videoPath, caption, description, label string) error {
	notifier := notify.New(cfg, log)

	var obj s3.Client
	if cfg.S3Enabled() {
		c, err := s3.New(cfg)
		if err != nil {
			return fmt.Errorf("init s3: %w", err)
		}
		obj = c
	}

	opts := []uploaders.Option{}
	if obj != nil {
		opts = append(opts, uploaders.WithStorage(obj))
	}
	if cfg.YouTubeEnabled {
		oauthCfg, err := credentials.LoadClientSecrets(ctx, cfg.YouTubeClientSecretsFile, obj,
			credentials.ObjectKey(cfg, cfg.YouTubeClientSecretsFile))
		if err != nil {
			return fmt.Errorf("youtube client secrets: %w", err)
		}
		auth := credentials.TerminalAuthenticator(os.Stdin)
		if auth == nil {
			log.Debugf("youtube: stdin is not a terminal, interactive authorization disabled")
		}
		lifecycle := credentials.NewLifecycle(oauthCfg, credentials.NewStore(cfg, obj), auth, log)
		opts = append(opts, uploaders.WithYouTubeCredentials(lifecycle))
	}

	manager, err := uploaders.NewManager(cfg, log, opts...)
	if err != nil {
		reportFailure(ctx, notifier, cfg, err)
		return err
	}

	if days, ok := manager.VerifyFacebookToken(ctx); ok {
		if days == uploaders.NeverExpires {
			log.Infof("facebook token never expires")
		} else {
			log.Infof("facebook token expires in %d days", days)
			if days <= cfg.TokenAlertDays {
				notifier.SendAlert(ctx, "Facebook Token Expiring Soon",
					fmt.Sprintf("Your Facebook access token will expire in %d days.\nPlease generate a new long-lived token.", days))
			}
		}
	}

	results, err := manager.UploadAll(ctx, videoPath, caption, description)
	if err != nil {
		reportFailure(ctx, notifier, cfg, err)
		return fmt.Errorf("upload: %w", err)
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err == nil {
		fmt.Println(string(out))
	}

	notifier.SendReport(context.WithoutCancel(ctx), label, results)

	if !results.AnySucceeded() {
		return fmt.Errorf("upload: no platform succeeded")
	}
	return nil
}

// reportFailure sends err with the tail of the error log attached.
func reportFailure(ctx context.Context, notifier *notify.Notifier, cfg internal.Config, err error) {
	msg := err.Error()
	if lines, tailErr := logging.TailLines(cfg.LogFile, 10); tailErr == nil && len(lines) > 0 {
		msg += "\n\nLast log lines:\n" + strings.Join(lines, "\n")
	}
	notifier.SendError(context.WithoutCancel(ctx), msg)
}
