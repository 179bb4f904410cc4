package uploaders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"shorts-publisher/internal"
	"shorts-publisher/internal/logging"
	"shorts-publisher/internal/retry"
	"shorts-publisher/internal/s3"
)

// Appended to every description before it is handed to the platforms.
const (
	callToAction = "\n\n👉 Please Subscribe & Follow for more! ❤️"
	musicLicense = "\n\nMusic: Life of Riley – Kevin MacLeod\n" +
		"Licensed under Creative Commons: Attribution 3.0\n" +
		"http://creativecommons.org/licenses/by/3.0/"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for Graph API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithYouTubeCredentials sets the source of authorized YouTube clients.
// Required when YouTube is enabled.
func WithYouTubeCredentials(src ClientSource) Option {
	return func(m *Manager) { m.ytCreds = src }
}

// WithStorage enables s3:// video paths.
func WithStorage(c s3.Client) Option {
	return func(m *Manager) { m.storage = c }
}

// WithRetrySleeper replaces the wait between upload attempts.
func WithRetrySleeper(s retry.Sleeper) Option {
	return func(m *Manager) { m.sleep = s }
}

// WithClock sets the time source used by the token health check.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager publishes one video to every enabled platform and collects one
// result per platform.
type Manager struct {
	cfg        internal.Config
	log        *logging.Logger
	httpClient *http.Client
	ytCreds    ClientSource
	storage    s3.Client
	sleep      retry.Sleeper
	now        func() time.Time
	validate   *validator.Validate

	graph     *graphClient
	facebook  *FacebookUploader
	instagram *InstagramUploader
	youtube   *YouTubeUploader
}

// NewManager creates a new uploader manager
func NewManager(cfg internal.Config, log *logging.Logger, opts ...Option) (*Manager, error) {
	if log == nil {
		log = logging.Discard()
	}
	m := &Manager{
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{}
	}

	m.graph = newGraphClient(cfg, m.httpClient, log)

	if cfg.FacebookEnabled {
		if cfg.FacebookPageID == "" {
			return nil, &ConfigurationError{Field: "FACEBOOK_PAGE_ID", Reason: "required when Facebook is enabled"}
		}
		if cfg.FacebookAccessToken == "" {
			return nil, &ConfigurationError{Field: "FACEBOOK_ACCESS_TOKEN", Reason: "required when Facebook is enabled"}
		}
		m.facebook = newFacebookUploader(m.graph, cfg.FacebookPageID, log)
		m.instagram = newInstagramUploader(m.graph, cfg.FacebookPageID, cfg.InstagramPollInterval, cfg.InstagramPollAttempts, log)
	}

	if cfg.YouTubeEnabled {
		if m.ytCreds == nil {
			return nil, &ConfigurationError{Field: "YOUTUBE_TOKEN_FILE", Reason: "no YouTube credential source configured"}
		}
		m.youtube = newYouTubeUploader(m.ytCreds, cfg.YouTubeCategoryID, cfg.YouTubePrivacyStatus,
			cfg.YouTubeChunkSize, cfg.YouTubeBaseURL, cfg.TransferTimeout, log)
	}

	return m, nil
}

// AvailablePlatforms returns the enabled platforms in invocation order.
// Instagram is listed when Facebook is enabled; whether it is attempted
// depends on account discovery.
func (m *Manager) AvailablePlatforms() []Target {
	var out []Target
	if m.facebook != nil {
		out = append(out, Facebook, Instagram)
	}
	if m.youtube != nil {
		out = append(out, YouTube)
	}
	return out
}

// UploadAll publishes videoPath to every enabled platform. caption becomes
// the title; description gets the call-to-action and music license
// appended. Platform failures are reported in the result set. The only
// returned error is a *ConfigurationError for an unusable request.
func (m *Manager) UploadAll(ctx context.Context, videoPath, caption, description string) (*ResultSet, error) {
	req := UploadRequest{
		VideoPath:   videoPath,
		Title:       caption,
		Description: description + callToAction + musicLicense,
	}
	if err := m.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &ConfigurationError{Field: verrs[0].Field(), Reason: verrs[0].Tag()}
		}
		return nil, &ConfigurationError{Field: "request", Reason: err.Error()}
	}

	local, cleanup, err := m.resolveVideo(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	req.VideoPath = local

	tasks := m.tasks(req)
	results := make([]*UploadResult, len(tasks))

	if m.cfg.UploadConcurrent {
		var g errgroup.Group
		for i, task := range tasks {
			if ctx.Err() != nil {
				m.log.Warnf("upload cancelled before %s was dispatched", task.platform)
				break
			}
			g.Go(func() error {
				results[i] = m.run(ctx, task)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, task := range tasks {
			if ctx.Err() != nil {
				m.log.Warnf("upload cancelled before %s was dispatched", task.platform)
				break
			}
			results[i] = m.run(ctx, task)
		}
	}

	rs := newResultSet(results)
	m.log.Infof("upload finished: %d platform(s) attempted, any succeeded: %t", rs.Len(), rs.AnySucceeded())
	return rs, nil
}

// uploadTask is one independent unit of work. A nil result means the
// platform was skipped.
type uploadTask struct {
	platform Target
	fn       func(ctx context.Context) *UploadResult
}

func (m *Manager) tasks(req UploadRequest) []uploadTask {
	var tasks []uploadTask
	if m.facebook != nil {
		tasks = append(tasks, uploadTask{platform: Facebook, fn: func(ctx context.Context) *UploadResult {
			return m.attempt(ctx, m.facebook, req)
		}})
		tasks = append(tasks, uploadTask{platform: Instagram, fn: func(ctx context.Context) *UploadResult {
			accountID, ok := m.instagram.DiscoverAccount(ctx)
			if !ok {
				m.log.Infof("instagram: no linked account found for crossposting")
				return nil
			}
			m.log.Infof("instagram: found linked account %s", accountID)
			return m.attempt(ctx, m.instagram.WithAccount(accountID), req)
		}})
	}
	if m.youtube != nil {
		tasks = append(tasks, uploadTask{platform: YouTube, fn: func(ctx context.Context) *UploadResult {
			return m.attempt(ctx, m.youtube, req)
		}})
	}
	return tasks
}

// run executes a task and turns a panic into a failed result.
func (m *Manager) run(ctx context.Context, task uploadTask) (res *UploadResult) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("%s: upload panicked: %v", task.platform, r)
			res = failed(task.platform, m.redact(fmt.Sprintf("internal error: %v", r)))
		}
	}()
	return task.fn(ctx)
}

// attempt runs one platform upload under the retry policy.
func (m *Manager) attempt(ctx context.Context, up Uploader, req UploadRequest) *UploadResult {
	platform := up.Platform()
	policy := retry.UploadPolicy(IsRetryable)
	policy.MaxAttempts = m.cfg.UploadMaxAttempts
	policy.Delay = retry.Exponential(m.cfg.UploadRetryBase)
	policy.Sleep = m.sleep
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		m.log.Warnf("%s: attempt %d failed, retrying in %s: %s", platform, attempt+1, delay, m.redact(err.Error()))
	}

	res, err := retry.Do(ctx, policy, func(ctx context.Context) (*UploadResult, error) {
		return up.Upload(ctx, req)
	})
	if err != nil {
		reason := m.redact(err.Error())
		m.log.Errorf("%s: upload failed: %s", platform, reason)
		return failed(platform, reason)
	}
	if res == nil {
		return failed(platform, "uploader returned no result")
	}
	m.log.Infof("%s: published %s", platform, res.URL)
	return res
}

func (m *Manager) redact(s string) string {
	secrets := []string{m.cfg.FacebookAccessToken}
	if src, ok := m.ytCreds.(SecretSource); ok {
		secrets = append(secrets, src.Secrets()...)
	}
	return Redact(s, secrets...)
}

// resolveVideo returns a readable local path for videoPath, downloading
// s3:// sources to a temp file first.
func (m *Manager) resolveVideo(ctx context.Context, videoPath string) (string, func(), error) {
	noop := func() {}

	if key, ok := s3.KeyFromURI(videoPath); ok {
		if m.storage == nil {
			return "", noop, &ConfigurationError{Field: "videoPath", Reason: "s3 video path given but storage is not configured"}
		}
		tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(key))
		if err != nil {
			return "", noop, &ConfigurationError{Field: "videoPath", Reason: fmt.Sprintf("create temp video: %v", err)}
		}
		tmpPath := tmp.Name()
		tmp.Close()

		n, err := m.storage.DownloadToFile(ctx, key, tmpPath)
		if err != nil {
			os.Remove(tmpPath)
			return "", noop, &ConfigurationError{Field: "videoPath", Reason: fmt.Sprintf("download %s: %v", key, err)}
		}
		m.log.Infof("downloaded %s (%d bytes)", videoPath, n)
		return tmpPath, func() { os.Remove(tmpPath) }, nil
	}

	info, err := os.Stat(videoPath)
	if err != nil {
		return "", noop, &ConfigurationError{Field: "videoPath", Reason: err.Error()}
	}
	if info.IsDir() {
		return "", noop, &ConfigurationError{Field: "videoPath", Reason: videoPath + " is a directory"}
	}
	f, err := os.Open(videoPath)
	if err != nil {
		return "", noop, &ConfigurationError{Field: "videoPath", Reason: err.Error()}
	}
	f.Close()
	return videoPath, noop, nil
}
