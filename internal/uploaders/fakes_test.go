package uploaders

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shorts-publisher/internal"
	"shorts-publisher/internal/logging"
)

const (
	testPageID = "page1"
	// testToken contains characters that change under URL escaping.
	testToken   = "EAAB/page+token=="
	videoBytes  = "fake-video-bytes"
	graphPrefix = "/v18.0"
)

// fakeGraph routes requests by "METHOD /path" and counts hits.
type fakeGraph struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   map[string]int
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	f := &fakeGraph{
		t:      t,
		routes: map[string]http.HandlerFunc{},
		hits:   map[string]int{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.hits[key]++
		h, ok := f.routes[key]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error":{"message":"no route for %s","code":803}}`, key)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGraph) URL() string {
	return f.srv.URL
}

func (f *fakeGraph) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeGraph) json(method, path string, status int, body string) {
	f.handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
}

func (f *fakeGraph) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[method+" "+path]
}

// facebookHappyPath wires start, transfer and finish for video 123.
func (f *fakeGraph) facebookHappyPath() {
	f.handle(http.MethodPost, graphPrefix+"/"+testPageID+"/video_reels", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		switch r.PostForm.Get("upload_phase") {
		case "start":
			fmt.Fprintf(w, `{"video_id":"123","upload_url":"%s/rupload/123"}`, f.URL())
		case "finish":
			fmt.Fprint(w, `{"success":true}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	f.json(http.MethodPost, "/rupload/123", http.StatusOK, `{"success":true}`)
}

// instagramHappyPath wires discovery, container, transfer, publish and a
// FINISHED status for media m1.
func (f *fakeGraph) instagramHappyPath() {
	f.json(http.MethodGet, graphPrefix+"/"+testPageID, http.StatusOK, `{"instagram_business_account":{"id":"ig1"},"id":"page1"}`)
	f.handle(http.MethodPost, graphPrefix+"/ig1/media", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"id":"c1","uri":"%s/ig-upload/c1"}`, f.URL())
	})
	f.json(http.MethodPost, "/ig-upload/c1", http.StatusOK, `{"success":true}`)
	f.json(http.MethodPost, graphPrefix+"/ig1/media_publish", http.StatusOK, `{"id":"m1"}`)
	f.json(http.MethodGet, graphPrefix+"/c1", http.StatusOK, `{"status_code":"FINISHED","id":"c1"}`)
	f.json(http.MethodGet, graphPrefix+"/m1", http.StatusOK, `{"permalink":"https://www.instagram.com/reel/ABC/","shortcode":"ABC","id":"m1"}`)
}

func testConfig(graphURL string) internal.Config {
	return internal.Config{
		FacebookEnabled:       true,
		FacebookPageID:        testPageID,
		FacebookAccessToken:   testToken,
		GraphAPIBaseURL:       graphURL,
		GraphAPIVersion:       "v18.0",
		YouTubeCategoryID:     "27",
		YouTubePrivacyStatus:  "public",
		YouTubeChunkSize:      8 << 20,
		HTTPTimeout:           5 * time.Second,
		TransferTimeout:       5 * time.Second,
		TokenCheckTimeout:     5 * time.Second,
		UploadMaxAttempts:     3,
		UploadRetryBase:       5 * time.Second,
		UploadConcurrent:      true,
		InstagramPollInterval: 0,
		InstagramPollAttempts: 10,
	}
}

func writeVideo(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(p, []byte(videoBytes), 0o644))
	return p
}

// noWait records retry delays without sleeping.
func noWait(waits *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*waits = append(*waits, d)
		mu.Unlock()
		return ctx.Err()
	}
}

func newTestManager(t *testing.T, cfg internal.Config, opts ...Option) *Manager {
	t.Helper()
	var waits []time.Duration
	opts = append([]Option{WithRetrySleeper(noWait(&waits))}, opts...)
	m, err := NewManager(cfg, logging.Discard(), opts...)
	require.NoError(t, err)
	return m
}

// staticClient hands out a plain HTTP client as the YouTube credential.
type staticClient struct {
	client *http.Client
	err    error
}

func (s staticClient) Client(context.Context) (*http.Client, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.client == nil {
		return http.DefaultClient, nil
	}
	return s.client, nil
}
