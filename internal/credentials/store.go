package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"shorts-publisher/internal"
	"shorts-publisher/internal/s3"
)

var (
	// ErrNoCredential means the store holds no token yet.
	ErrNoCredential = errors.New("no stored credential")
	// ErrCorrupt means the stored token could not be parsed.
	ErrCorrupt = errors.New("stored credential is corrupt")
)

// Store persists one OAuth token.
type Store interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, tok *oauth2.Token) error
}

// NewStore keeps the token in the bucket when obj is set, otherwise in the
// local token file.
func NewStore(cfg internal.Config, obj s3.Client) Store {
	if obj != nil {
		return NewS3Store(obj, ObjectKey(cfg, cfg.YouTubeTokenFile))
	}
	return NewFileStore(cfg.YouTubeTokenFile)
}

// ObjectKey is where a local credential file lives in the bucket.
func ObjectKey(cfg internal.Config, path string) string {
	return cfg.TokensPrefix + filepath.Base(path)
}

// FileStore keeps the token in a local JSON file. Writes go through a temp
// file and a rename so an interrupted save never leaves a partial file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Load(_ context.Context) (*oauth2.Token, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return decodeToken(b)
}

func (s *FileStore) Save(_ context.Context, tok *oauth2.Token) error {
	b, err := encodeToken(tok)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.Path, b)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// S3Store keeps the token as a JSON object in the bucket.
type S3Store struct {
	client s3.Client
	key    string
}

func NewS3Store(client s3.Client, key string) *S3Store {
	return &S3Store{client: client, key: key}
}

func (s *S3Store) Load(ctx context.Context) (*oauth2.Token, error) {
	b, _, err := s.client.GetBytes(ctx, s.key)
	if err != nil {
		if s3.IsNotExist(err) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	return decodeToken(b)
}

func (s *S3Store) Save(ctx context.Context, tok *oauth2.Token) error {
	b, err := encodeToken(tok)
	if err != nil {
		return err
	}
	return s.client.PutBytes(ctx, s.key, b, "application/json")
}

// expiryLayouts covers RFC 3339 and the time.Time String form written by
// older token tooling.
var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999",
}

// decodeToken accepts both the oauth2 JSON shape (access_token) and the
// token/refresh_token/expiry shape.
func decodeToken(b []byte) (*oauth2.Token, error) {
	if !gjson.ValidBytes(b) {
		return nil, ErrCorrupt
	}
	r := gjson.ParseBytes(b)

	tok := &oauth2.Token{
		AccessToken:  r.Get("access_token").String(),
		TokenType:    r.Get("token_type").String(),
		RefreshToken: r.Get("refresh_token").String(),
	}
	if tok.AccessToken == "" {
		tok.AccessToken = r.Get("token").String()
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrCorrupt
	}

	if exp := r.Get("expiry").String(); exp != "" {
		parsed := false
		for _, layout := range expiryLayouts {
			if t, err := time.Parse(layout, exp); err == nil {
				tok.Expiry = t
				parsed = true
				break
			}
		}
		if !parsed {
			return nil, fmt.Errorf("%w: bad expiry %q", ErrCorrupt, exp)
		}
	}
	return tok, nil
}

func encodeToken(tok *oauth2.Token) ([]byte, error) {
	if tok == nil {
		return nil, errors.New("nil token")
	}
	return json.MarshalIndent(tok, "", "  ")
}
