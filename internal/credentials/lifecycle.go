// Package credentials owns the YouTube OAuth token: loading it from a store,
// refreshing or re-authorizing it, and persisting every new token before it
// is used.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"shorts-publisher/internal/logging"
)

// ErrAuth means no valid credential can be produced without user action.
var ErrAuth = errors.New("credential invalid and cannot be refreshed")

// State is the position of the credential in its lifecycle.
type State int

const (
	NoCredential State = iota
	Loaded
	Valid
	Expired
)

func (s State) String() string {
	switch s {
	case NoCredential:
		return "no-credential"
	case Loaded:
		return "loaded"
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Authenticator obtains a brand new token, usually with user interaction.
type Authenticator interface {
	Authenticate(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)
}

// Lifecycle hands out valid tokens. It is safe for concurrent use.
type Lifecycle struct {
	cfg   *oauth2.Config
	store Store
	auth  Authenticator
	log   *logging.Logger
	now   func() time.Time

	mu     sync.Mutex
	token  *oauth2.Token
	state  State
	loaded bool
}

// NewLifecycle wires the OAuth client config to a token store. auth may be
// nil, in which case a missing credential is an ErrAuth.
func NewLifecycle(cfg *oauth2.Config, store Store, auth Authenticator, log *logging.Logger) *Lifecycle {
	return &Lifecycle{
		cfg:   cfg,
		store: store,
		auth:  auth,
		log:   log,
		now:   time.Now,
		state: NoCredential,
	}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Secrets returns the client secret and the current token values, for
// scrubbing from logs and reports.
func (l *Lifecycle) Secrets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	if l.cfg != nil {
		out = append(out, l.cfg.ClientSecret)
	}
	if l.token != nil {
		out = append(out, l.token.AccessToken, l.token.RefreshToken)
	}
	return out
}

// Token returns a valid token, refreshing or re-authorizing as needed.
func (l *Lifecycle) Token(ctx context.Context) (*oauth2.Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validLocked(ctx)
}

// Client returns an HTTP client authorized with a valid token. Tokens the
// transport refreshes during long uploads are persisted too.
func (l *Lifecycle) Client(ctx context.Context) (*http.Client, error) {
	tok, err := l.Token(ctx)
	if err != nil {
		return nil, err
	}
	src := oauth2.ReuseTokenSource(tok, &persistingSource{ctx: ctx, l: l})
	return oauth2.NewClient(ctx, src), nil
}

func (l *Lifecycle) validLocked(ctx context.Context) (*oauth2.Token, error) {
	if !l.loaded {
		if err := l.loadLocked(ctx); err != nil {
			return nil, err
		}
	}
	l.classifyLocked()

	switch l.state {
	case Valid:
		return l.token, nil
	case Expired:
		if l.token.RefreshToken == "" {
			return nil, fmt.Errorf("%w: token expired and has no refresh token", ErrAuth)
		}
		if err := l.refreshLocked(ctx); err != nil {
			return nil, err
		}
		return l.token, nil
	default:
		if err := l.authenticateLocked(ctx); err != nil {
			return nil, err
		}
		return l.token, nil
	}
}

func (l *Lifecycle) loadLocked(ctx context.Context) error {
	tok, err := l.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoCredential):
		l.log.Infof("credentials: no stored YouTube credential")
		l.state = NoCredential
	case err != nil:
		return fmt.Errorf("load credential: %w", err)
	default:
		l.token = tok
		l.state = Loaded
	}
	l.loaded = true
	return nil
}

// classifyLocked moves Loaded/Valid to Valid or Expired by looking at the
// token expiry.
func (l *Lifecycle) classifyLocked() {
	if l.token == nil {
		l.state = NoCredential
		return
	}
	if l.token.AccessToken != "" && (l.token.Expiry.IsZero() || l.token.Expiry.After(l.now().Add(time.Minute))) {
		l.state = Valid
		return
	}
	l.state = Expired
}

func (l *Lifecycle) refreshLocked(ctx context.Context) error {
	l.log.Infof("credentials: refreshing expired YouTube token")
	src := l.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: l.token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) {
			return fmt.Errorf("%w: refresh rejected: %v", ErrAuth, rErr)
		}
		return fmt.Errorf("refresh credential: %w", err)
	}
	return l.adoptLocked(ctx, tok)
}

func (l *Lifecycle) authenticateLocked(ctx context.Context) error {
	if l.auth == nil {
		return fmt.Errorf("%w: no stored credential and no interactive authenticator", ErrAuth)
	}
	l.log.Infof("credentials: starting interactive YouTube authorization")
	tok, err := l.auth.Authenticate(ctx, l.cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return l.adoptLocked(ctx, tok)
}

// adoptLocked persists tok and makes it current. A token that cannot be
// saved is not used.
func (l *Lifecycle) adoptLocked(ctx context.Context, tok *oauth2.Token) error {
	if tok.RefreshToken == "" && l.token != nil {
		tok.RefreshToken = l.token.RefreshToken
	}
	if err := l.store.Save(ctx, tok); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	l.token = tok
	l.loaded = true
	l.classifyLocked()
	l.log.Infof("credentials: YouTube credential saved (expires %s)", tok.Expiry.Format(time.RFC3339))
	return nil
}

// persistingSource refreshes through the lifecycle so refreshed tokens are
// written back to the store.
type persistingSource struct {
	ctx context.Context
	l   *Lifecycle
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	return p.l.Token(p.ctx)
}
