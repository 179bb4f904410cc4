package uploaders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"shorts-publisher/internal"
	"shorts-publisher/internal/logging"
)

const maxErrorBody = 500

// graphClient talks to the Facebook Graph API on behalf of the Facebook and
// Instagram uploaders. Both share one Page access token.
type graphClient struct {
	http            *http.Client
	cfg             internal.Config
	token           string
	timeout         time.Duration
	transferTimeout time.Duration
	log             *logging.Logger
}

func newGraphClient(cfg internal.Config, httpClient *http.Client, log *logging.Logger) *graphClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &graphClient{
		http:            httpClient,
		cfg:             cfg,
		token:           cfg.FacebookAccessToken,
		timeout:         cfg.HTTPTimeout,
		transferTimeout: cfg.TransferTimeout,
		log:             log,
	}
}

func (g *graphClient) url(parts ...string) string {
	return g.cfg.GraphURL(parts...)
}

// postForm sends a form-encoded POST with the access token attached and
// decodes a 2xx JSON answer into out.
func (g *graphClient) postForm(ctx context.Context, platform Target, op, endpoint string, form url.Values, out any) ([]byte, error) {
	form.Set("access_token", g.token)
	return g.do(ctx, platform, op, http.MethodPost, endpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

// get sends a GET with params and the access token as query string.
func (g *graphClient) get(ctx context.Context, platform Target, op, endpoint string, params url.Values, out any) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", g.token)
	return g.do(ctx, platform, op, http.MethodGet, endpoint+"?"+params.Encode(), nil, "", out)
}

func (g *graphClient) do(ctx context.Context, platform Target, op, method, endpoint string, body io.Reader, contentType string, out any) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", platform, op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: fmt.Sprintf("%s %s", platform, op), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &NetworkError{Op: fmt.Sprintf("%s %s: read response", platform, op), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, &APIError{
			Platform:   platform,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    graphErrorMessage(respBody),
		}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return respBody, &ProtocolError{Platform: platform, Phase: op, Missing: []string{"valid JSON body"}}
		}
	}
	return respBody, nil
}

// transfer streams the whole file to a resumable upload endpoint in one
// request, starting at offset 0.
func (g *graphClient) transfer(ctx context.Context, platform Target, uploadURL, videoPath string, extra http.Header) error {
	f, err := os.Open(videoPath)
	if err != nil {
		return fmt.Errorf("%s transfer: open video: %w", platform, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%s transfer: stat video: %w", platform, err)
	}
	size := info.Size()

	ctx, cancel := withTimeout(ctx, g.transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return fmt.Errorf("%s transfer: build request: %w", platform, err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "OAuth "+g.token)
	req.Header.Set("offset", "0")
	req.Header.Set("file_size", strconv.FormatInt(size, 10))
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return &NetworkError{Op: fmt.Sprintf("%s transfer", platform), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.log.Errorf("%s: binary upload failed: status=%d body=%s", platform, resp.StatusCode, Redact(string(body), g.token))
		return &TransferError{
			Platform:   platform,
			StatusCode: resp.StatusCode,
			Body:       graphErrorMessage(body),
		}
	}
	g.log.Infof("%s: transferred %d bytes", platform, size)
	return nil
}

// graphErrorMessage pulls error.message out of a Graph error payload, falling
// back to the truncated body.
func graphErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		if code := gjson.GetBytes(body, "error.code"); code.Exists() {
			return fmt.Sprintf("%s (code %d)", msg.String(), code.Int())
		}
		return msg.String()
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
