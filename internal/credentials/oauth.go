package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/term"
	"google.golang.org/api/youtube/v3"

	"shorts-publisher/internal/s3"
)

// Scopes requested for publishing and for reading back the channel.
var Scopes = []string{youtube.YoutubeUploadScope, youtube.YoutubeScope}

// LoadClientSecrets reads the OAuth client secrets from path, falling back
// to key in the bucket when the file is absent and obj is set.
func LoadClientSecrets(ctx context.Context, path string, obj s3.Client, key string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) || obj == nil {
			return nil, fmt.Errorf("read client secrets: %w", err)
		}
		b, _, err = obj.GetBytes(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get client secrets %s: %w", key, err)
		}
	}
	cfg, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return cfg, nil
}

// ConsoleAuthenticator runs the installed-app flow on a terminal: it prints
// the consent URL and reads the authorization code back.
type ConsoleAuthenticator struct {
	In  io.Reader
	Out io.Writer
}

// TerminalAuthenticator returns a ConsoleAuthenticator bound to in when it
// is a terminal, and nil otherwise so unattended runs never block on a prompt.
func TerminalAuthenticator(in *os.File) Authenticator {
	if in == nil || !term.IsTerminal(int(in.Fd())) {
		return nil
	}
	return ConsoleAuthenticator{In: in}
}

func (a ConsoleAuthenticator) Authenticate(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	in, out := a.In, a.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	authURL := cfg.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(out, "Open this URL in your browser:")
	fmt.Fprintf(out, "   %s\n\n", authURL)
	fmt.Fprint(out, "After authorization, paste the authorization code: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read auth code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return nil, errors.New("empty authorization code")
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", err)
	}
	return tok, nil
}
