package uploaders

import (
	"context"
	"encoding/json"

	"github.com/samber/lo"
)

// Target identifies a publishing platform.
type Target string

const (
	Facebook  Target = "facebook"
	Instagram Target = "instagram"
	YouTube   Target = "youtube"
)

// invocationOrder is the order results appear in a ResultSet.
var invocationOrder = []Target{Facebook, Instagram, YouTube}

// UploadResult represents the result of an upload operation
type UploadResult struct {
	Success  bool              `json:"success"`
	Platform Target            `json:"platform"`
	ID       string            `json:"id,omitempty"`
	URL      string            `json:"url,omitempty"`
	Error    string            `json:"error,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
	// Raw is the platform's final response body, kept for diagnostics.
	Raw json.RawMessage `json:"-"`
}

func succeeded(platform Target, id, url string, details map[string]string, raw []byte) *UploadResult {
	return &UploadResult{
		Success:  true,
		Platform: platform,
		ID:       id,
		URL:      url,
		Details:  details,
		Raw:      raw,
	}
}

func failed(platform Target, reason string) *UploadResult {
	return &UploadResult{
		Success:  false,
		Platform: platform,
		Error:    reason,
	}
}

// UploadRequest represents a request to upload a video
type UploadRequest struct {
	VideoPath   string `validate:"required"`
	Title       string `validate:"required"`
	Description string
	Tags        []string
	Privacy     string // public, unlisted, private
}

// Uploader is an interface for uploading videos to social media platforms
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
	Platform() Target
}

// ResultSet holds one result per attempted platform in invocation order.
type ResultSet struct {
	results []*UploadResult
}

// NewResultSet orders results the way UploadAll reports them.
func NewResultSet(results ...*UploadResult) *ResultSet {
	return newResultSet(results)
}

func newResultSet(results []*UploadResult) *ResultSet {
	rs := &ResultSet{}
	for _, t := range invocationOrder {
		if r, ok := lo.Find(results, func(r *UploadResult) bool { return r != nil && r.Platform == t }); ok {
			rs.results = append(rs.results, r)
		}
	}
	return rs
}

// Get returns the result for t, if that platform was attempted.
func (rs *ResultSet) Get(t Target) (*UploadResult, bool) {
	return lo.Find(rs.results, func(r *UploadResult) bool { return r.Platform == t })
}

// Targets lists attempted platforms in invocation order.
func (rs *ResultSet) Targets() []Target {
	return lo.Map(rs.results, func(r *UploadResult, _ int) Target { return r.Platform })
}

// Results lists results in invocation order.
func (rs *ResultSet) Results() []*UploadResult {
	return append([]*UploadResult(nil), rs.results...)
}

func (rs *ResultSet) Len() int {
	return len(rs.results)
}

// AnySucceeded reports whether at least one platform published the video.
func (rs *ResultSet) AnySucceeded() bool {
	return lo.SomeBy(rs.results, func(r *UploadResult) bool { return r.Success })
}

// MarshalJSON renders the set as an object keyed by platform name, keeping
// invocation order.
func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, r := range rs.results {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(string(r.Platform))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}
