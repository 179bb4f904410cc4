package uploaders

import (
	"context"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

// NeverExpires is reported for tokens without an expiry.
const NeverExpires = 9999

// VerifyFacebookToken asks the Graph API how long the Page token has left.
// It returns whole days remaining, or NeverExpires. ok is false when
// Facebook is disabled or the answer cannot be obtained.
func (m *Manager) VerifyFacebookToken(ctx context.Context) (days int, ok bool) {
	if m.facebook == nil {
		return 0, false
	}

	ctx, cancel := withTimeout(ctx, m.cfg.TokenCheckTimeout)
	defer cancel()

	params := url.Values{
		"input_token": {m.cfg.FacebookAccessToken},
	}
	body, err := m.graph.get(ctx, Facebook, "debug_token", m.cfg.GraphAPIBaseURL+"/debug_token", params, nil)
	if err != nil {
		m.log.Warnf("could not verify Facebook token expiry: %s", m.redact(err.Error()))
		return 0, false
	}
	if !gjson.ValidBytes(body) {
		m.log.Warnf("could not verify Facebook token expiry: malformed response")
		return 0, false
	}
	expiresAt := gjson.GetBytes(body, "data.expires_at")
	if !expiresAt.Exists() || expiresAt.Type != gjson.Number {
		m.log.Warnf("could not verify Facebook token expiry: no data.expires_at in response")
		return 0, false
	}

	ts := expiresAt.Int()
	if ts == 0 {
		return NeverExpires, true
	}
	remaining := time.Unix(ts, 0).Sub(m.now())
	days = int(remaining / (24 * time.Hour))
	if remaining < 0 && remaining%(24*time.Hour) != 0 {
		days--
	}
	return days, true
}
