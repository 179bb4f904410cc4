package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"shorts-publisher/internal"
	"shorts-publisher/internal/credentials"
	"shorts-publisher/internal/logging"
	"shorts-publisher/internal/s3"
)

func main() {
	tokenPath := flag.String("token", "", "Path to save the token (default YOUTUBE_TOKEN_FILE)")
	credentialsPath := flag.String("credentials", "", "Path to client_secrets.json (default YOUTUBE_CLIENT_SECRETS_FILE)")
	toS3 := flag.Bool("s3", false, "Store the token in the S3 bucket instead of a local file")
	flag.Parse()

	_ = godotenv.Load(".env")

	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Printf("❌ Config: %v (set FACEBOOK_ENABLED=false to authorize YouTube only)\n", err)
		os.Exit(1)
	}
	if *tokenPath != "" {
		cfg.YouTubeTokenFile = *tokenPath
	}
	if *credentialsPath != "" {
		cfg.YouTubeClientSecretsFile = *credentialsPath
	}

	fmt.Println("🔐 YouTube Token Generator")
	fmt.Println("========================================")
	fmt.Println()

	ctx := context.Background()

	var obj s3.Client
	if *toS3 || cfg.S3Enabled() {
		if !cfg.S3Enabled() {
			fmt.Println("❌ -s3 given but S3_BUCKET/S3_REGION are not set")
			os.Exit(1)
		}
		obj, err = s3.New(cfg)
		if err != nil {
			fmt.Printf("❌ Failed to init S3: %v\n", err)
			os.Exit(1)
		}
	}

	if _, err := os.Stat(cfg.YouTubeClientSecretsFile); os.IsNotExist(err) && obj == nil {
		fmt.Printf("❌ Credentials file not found: %s\n", cfg.YouTubeClientSecretsFile)
		fmt.Println("   Download from https://console.cloud.google.com/")
		fmt.Println("   1. Go to Google Cloud Console")
		fmt.Println("   2. Create OAuth 2.0 credentials (Desktop app)")
		fmt.Println("   3. Download JSON file and rename to client_secrets.json")
		os.Exit(1)
	}

	oauthCfg, err := credentials.LoadClientSecrets(ctx, cfg.YouTubeClientSecretsFile, obj,
		credentials.ObjectKey(cfg, cfg.YouTubeClientSecretsFile))
	if err != nil {
		fmt.Printf("❌ Failed to create config: %v\n", err)
		os.Exit(1)
	}

	var store credentials.Store = credentials.NewFileStore(cfg.YouTubeTokenFile)
	where := cfg.YouTubeTokenFile
	if *toS3 {
		store = credentials.NewStore(cfg, obj)
		where = s3.URIScheme + credentials.ObjectKey(cfg, cfg.YouTubeTokenFile)
	}
	fmt.Printf("💾 Token will be saved to: %s\n", where)
	fmt.Println()

	lifecycle := credentials.NewLifecycle(oauthCfg, &forceNew{store}, credentials.ConsoleAuthenticator{}, logging.NewWriter(os.Stderr))
	client, err := lifecycle.Client(ctx)
	if err != nil {
		fmt.Printf("❌ Authorization failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Token successfully saved: %s\n", where)
	fmt.Println()

	fmt.Println("📺 Fetching channel information...")
	youtubeService, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		fmt.Printf("⚠️  Could not verify channel (will still work): %v\n", err)
		return
	}
	channels, err := youtubeService.Channels.List([]string{"snippet"}).Mine(true).Do()
	if err != nil {
		fmt.Printf("⚠️  Could not fetch channel info: %v\n", err)
		return
	}
	if len(channels.Items) > 0 {
		fmt.Printf("✅ Authorized channel: %s\n", channels.Items[0].Snippet.Title)
	}
}

// forceNew ignores any stored token so the consent flow always runs.
type forceNew struct {
	credentials.Store
}

func (forceNew) Load(context.Context) (*oauth2.Token, error) {
	return nil, credentials.ErrNoCredential
}
