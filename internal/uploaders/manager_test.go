package uploaders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"shorts-publisher/internal/logging"
)

// mockStorage implements s3.Client for testing.
type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) PutBytes(ctx context.Context, key string, b []byte, contentType string) error {
	args := m.Called(ctx, key, b, contentType)
	return args.Error(0)
}

func (m *mockStorage) GetBytes(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *mockStorage) DownloadToFile(ctx context.Context, key, path string) (int64, error) {
	args := m.Called(ctx, key, path)
	if err := args.Error(1); err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, []byte(videoBytes), 0o644); err != nil {
		return 0, err
	}
	return int64(args.Int(0)), nil
}

func newFullManager(t *testing.T, g *fakeGraph, yt *fakeYouTube, opts ...Option) *Manager {
	t.Helper()
	cfg := testConfig(g.URL())
	cfg.YouTubeEnabled = true
	cfg.YouTubeBaseURL = yt.srv.URL
	opts = append([]Option{WithYouTubeCredentials(staticClient{})}, opts...)
	return newTestManager(t, cfg, opts...)
}

func TestUploadAll_AllPlatformsInInvocationOrder(t *testing.T) {
	g := newFakeGraph(t)
	g.facebookHappyPath()
	g.instagramHappyPath()
	yt := newFakeYouTube(t, http.StatusOK, `{"id":"yt1"}`)

	var mu sync.Mutex
	var fbDescription string
	g.handle(http.MethodPost, graphPrefix+"/page1/video_reels", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("upload_phase") == "start" {
			fmt.Fprintf(w, `{"video_id":"123","upload_url":"%s/rupload/123"}`, g.URL())
			return
		}
		mu.Lock()
		fbDescription = r.PostForm.Get("description")
		mu.Unlock()
		fmt.Fprint(w, `{"success":true}`)
	})

	m := newFullManager(t, g, yt)
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "Quiz #7", "Which planet is largest?")

	require.NoError(t, err)
	assert.Equal(t, []Target{Facebook, Instagram, YouTube}, rs.Targets())
	for _, r := range rs.Results() {
		assert.True(t, r.Success, "%s: %s", r.Platform, r.Error)
	}
	assert.True(t, rs.AnySucceeded())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Which planet is largest?"+callToAction+musicLicense, fbDescription)
	assert.Contains(t, yt.lastBody(), "Kevin MacLeod")
}

func TestUploadAll_FaultIsolation(t *testing.T) {
	g := newFakeGraph(t)
	g.instagramHappyPath()
	g.json(http.MethodPost, graphPrefix+"/page1/video_reels", http.StatusBadRequest, `{"error":{"message":"Page is restricted","code":368}}`)
	yt := newFakeYouTube(t, http.StatusOK, `{"id":"yt1"}`)

	m := newFullManager(t, g, yt)
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "caption", "description")

	require.NoError(t, err)
	require.Equal(t, 3, rs.Len())

	fb, ok := rs.Get(Facebook)
	require.True(t, ok)
	assert.False(t, fb.Success)
	assert.Contains(t, fb.Error, "Page is restricted")

	ig, ok := rs.Get(Instagram)
	require.True(t, ok)
	assert.True(t, ig.Success)

	ytRes, ok := rs.Get(YouTube)
	require.True(t, ok)
	assert.True(t, ytRes.Success)
	assert.Equal(t, "yt1", ytRes.ID)

	assert.Equal(t, 1, g.count(http.MethodPost, graphPrefix+"/page1/video_reels"), "4xx is not retried")
}

func TestUploadAll_NoInstagramWithoutLinkedAccount(t *testing.T) {
	g := newFakeGraph(t)
	g.facebookHappyPath()
	g.json(http.MethodGet, graphPrefix+"/page1", http.StatusOK, `{"id":"page1"}`)

	m := newTestManager(t, testConfig(g.URL()))
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "caption", "description")

	require.NoError(t, err)
	assert.Equal(t, []Target{Facebook}, rs.Targets())
	_, ok := rs.Get(Instagram)
	assert.False(t, ok)

	raw, err := json.Marshal(rs)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"instagram"`)
	assert.Zero(t, g.count(http.MethodPost, graphPrefix+"/ig1/media"))
}

func TestUploadAll_RetriesWithBackoff(t *testing.T) {
	g := newFakeGraph(t)
	g.json(http.MethodGet, graphPrefix+"/page1", http.StatusOK, `{"id":"page1"}`)

	var starts atomic.Int32
	g.handle(http.MethodPost, graphPrefix+"/page1/video_reels", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("upload_phase") == "finish" {
			fmt.Fprint(w, `{"success":true}`)
			return
		}
		if starts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"try later","code":2}}`)
			return
		}
		fmt.Fprintf(w, `{"video_id":"123","upload_url":"%s/rupload/123"}`, g.URL())
	})
	g.json(http.MethodPost, "/rupload/123", http.StatusOK, `{"success":true}`)

	var waits []time.Duration
	m := newTestManager(t, testConfig(g.URL()), WithRetrySleeper(noWait(&waits)))
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "caption", "description")

	require.NoError(t, err)
	fb, ok := rs.Get(Facebook)
	require.True(t, ok)
	assert.True(t, fb.Success, fb.Error)
	assert.EqualValues(t, 3, starts.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, waits)
}

func TestUploadAll_GivesUpAfterThreeAttempts(t *testing.T) {
	g := newFakeGraph(t)
	g.json(http.MethodGet, graphPrefix+"/page1", http.StatusOK, `{"id":"page1"}`)
	g.json(http.MethodPost, graphPrefix+"/page1/video_reels", http.StatusBadGateway, `{"error":{"message":"bad gateway"}}`)

	var waits []time.Duration
	m := newTestManager(t, testConfig(g.URL()), WithRetrySleeper(noWait(&waits)))
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "caption", "description")

	require.NoError(t, err)
	fb, _ := rs.Get(Facebook)
	assert.False(t, fb.Success)
	assert.Contains(t, fb.Error, "bad gateway")
	assert.Equal(t, 3, g.count(http.MethodPost, graphPrefix+"/page1/video_reels"))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, waits)
}

func TestUploadAll_PublishTimeoutIsNotRetried(t *testing.T) {
	g := newFakeGraph(t)
	g.instagramHappyPath()

	// Both publish calls are accepted and then hang past the client timeout.
	hang := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	var finishes atomic.Int32
	g.handle(http.MethodPost, graphPrefix+"/page1/video_reels", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("upload_phase") == "finish" {
			finishes.Add(1)
			hang(w, r)
			return
		}
		fmt.Fprintf(w, `{"video_id":"123","upload_url":"%s/rupload/123"}`, g.URL())
	})
	g.json(http.MethodPost, "/rupload/123", http.StatusOK, `{"success":true}`)
	g.handle(http.MethodPost, graphPrefix+"/ig1/media_publish", hang)

	cfg := testConfig(g.URL())
	cfg.HTTPTimeout = 150 * time.Millisecond
	var waits []time.Duration
	m := newTestManager(t, cfg, WithRetrySleeper(noWait(&waits)))
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "caption", "description")
	require.NoError(t, err)

	fb, _ := rs.Get(Facebook)
	assert.False(t, fb.Success)
	assert.Contains(t, fb.Error, "publish outcome unknown")
	assert.EqualValues(t, 1, finishes.Load())
	assert.Equal(t, 1, g.count(http.MethodPost, "/rupload/123"))

	ig, _ := rs.Get(Instagram)
	assert.False(t, ig.Success)
	assert.Equal(t, 1, g.count(http.MethodPost, graphPrefix+"/ig1/media_publish"))
	assert.Equal(t, 1, g.count(http.MethodPost, graphPrefix+"/ig1/media"))
	assert.Empty(t, waits)
}

func TestUploadAll_RedactsToken(t *testing.T) {
	g := newFakeGraph(t)
	g.json(http.MethodGet, graphPrefix+"/page1", http.StatusOK, `{"id":"page1"}`)
	msg := fmt.Sprintf("token %s rejected (sent as %s)", testToken, url.QueryEscape(testToken))
	g.json(http.MethodPost, graphPrefix+"/page1/video_reels", http.StatusBadRequest,
		fmt.Sprintf(`{"error":{"message":%q,"code":190}}`, msg))

	m := newTestManager(t, testConfig(g.URL()))
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "caption", "description")

	require.NoError(t, err)
	fb, _ := rs.Get(Facebook)
	assert.False(t, fb.Success)
	assert.NotContains(t, fb.Error, testToken)
	assert.NotContains(t, fb.Error, url.QueryEscape(testToken))
	assert.Contains(t, fb.Error, "[REDACTED]")
}

// leakyCredentials fails with an error that quotes its own secrets.
type leakyCredentials struct{}

func (leakyCredentials) Client(context.Context) (*http.Client, error) {
	return nil, fmt.Errorf("refresh 1//refresh-token with client secret GOCSPX-s3cr3t rejected")
}

func (leakyCredentials) Secrets() []string {
	return []string{"GOCSPX-s3cr3t", "ya29.access", "1//refresh-token"}
}

func TestUploadAll_RedactsYouTubeSecrets(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.FacebookEnabled = false
	cfg.YouTubeEnabled = true

	m := newTestManager(t, cfg, WithYouTubeCredentials(leakyCredentials{}))
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "caption", "description")
	require.NoError(t, err)

	yt, ok := rs.Get(YouTube)
	require.True(t, ok)
	assert.False(t, yt.Success)
	assert.NotContains(t, yt.Error, "refresh-token")
	assert.NotContains(t, yt.Error, "s3cr3t")
	assert.Contains(t, yt.Error, "[REDACTED]")
}

func TestUploadAll_MissingVideoIsConfigurationError(t *testing.T) {
	g := newFakeGraph(t)
	m := newTestManager(t, testConfig(g.URL()))

	rs, err := m.UploadAll(context.Background(), "/nonexistent/clip.mp4", "caption", "description")

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "videoPath", cfgErr.Field)
	assert.Nil(t, rs)
	assert.Zero(t, g.count(http.MethodGet, graphPrefix+"/page1"))
	assert.Zero(t, g.count(http.MethodPost, graphPrefix+"/page1/video_reels"))
}

func TestUploadAll_EmptyCaptionIsConfigurationError(t *testing.T) {
	m := newTestManager(t, testConfig("http://127.0.0.1:1"))

	_, err := m.UploadAll(context.Background(), writeVideo(t), "", "description")

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Title", cfgErr.Field)
}

func TestUploadAll_CancelledBeforeDispatch(t *testing.T) {
	g := newFakeGraph(t)
	m := newTestManager(t, testConfig(g.URL()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rs, err := m.UploadAll(ctx, writeVideo(t), "caption", "description")

	require.NoError(t, err)
	assert.Zero(t, rs.Len())
}

func TestUploadAll_Sequential(t *testing.T) {
	g := newFakeGraph(t)
	g.facebookHappyPath()
	g.instagramHappyPath()

	cfg := testConfig(g.URL())
	cfg.UploadConcurrent = false
	m := newTestManager(t, cfg)
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "caption", "description")

	require.NoError(t, err)
	assert.Equal(t, []Target{Facebook, Instagram}, rs.Targets())
	assert.True(t, rs.AnySucceeded())
}

type panickingSource struct{}

func (panickingSource) Client(context.Context) (*http.Client, error) {
	panic("credential store exploded")
}

func TestUploadAll_RecoversPanics(t *testing.T) {
	g := newFakeGraph(t)
	g.facebookHappyPath()
	g.json(http.MethodGet, graphPrefix+"/page1", http.StatusOK, `{"id":"page1"}`)

	cfg := testConfig(g.URL())
	cfg.YouTubeEnabled = true
	m := newTestManager(t, cfg, WithYouTubeCredentials(panickingSource{}))
	rs, err := m.UploadAll(context.Background(), writeVideo(t), "caption", "description")

	require.NoError(t, err)
	fb, _ := rs.Get(Facebook)
	assert.True(t, fb.Success)
	yt, ok := rs.Get(YouTube)
	require.True(t, ok)
	assert.False(t, yt.Success)
	assert.Contains(t, yt.Error, "credential store exploded")
}

func TestUploadAll_S3Video(t *testing.T) {
	g := newFakeGraph(t)
	g.facebookHappyPath()
	g.json(http.MethodGet, graphPrefix+"/page1", http.StatusOK, `{"id":"page1"}`)

	var downloaded string
	store := &mockStorage{}
	store.On("DownloadToFile", mock.Anything, "videos/clip.mp4", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { downloaded = args.String(2) }).
		Return(len(videoBytes), nil)

	m := newTestManager(t, testConfig(g.URL()), WithStorage(store))
	rs, err := m.UploadAll(context.Background(), "s3://videos/clip.mp4", "caption", "description")

	require.NoError(t, err)
	store.AssertExpectations(t)
	fb, _ := rs.Get(Facebook)
	assert.True(t, fb.Success, fb.Error)

	require.NotEmpty(t, downloaded)
	_, statErr := os.Stat(downloaded)
	assert.True(t, os.IsNotExist(statErr), "temp video is removed")
}

func TestUploadAll_S3VideoWithoutStorage(t *testing.T) {
	m := newTestManager(t, testConfig("http://127.0.0.1:1"))

	_, err := m.UploadAll(context.Background(), "s3://videos/clip.mp4", "caption", "description")

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewManager_RequiresCredentials(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.FacebookAccessToken = ""
	_, err := NewManager(cfg, logging.Discard())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "FACEBOOK_ACCESS_TOKEN", cfgErr.Field)

	cfg = testConfig("http://127.0.0.1:1")
	cfg.YouTubeEnabled = true
	_, err = NewManager(cfg, logging.Discard())
	require.ErrorAs(t, err, &cfgErr)

	cfg.FacebookEnabled = false
	cfg.YouTubeEnabled = false
	m, err := NewManager(cfg, logging.Discard())
	require.NoError(t, err)
	assert.Empty(t, m.AvailablePlatforms())
}
