package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/sheets/v4"
)

// Scopes requested for every client built by NewHTTPClient.
var Scopes = []string{
	calendar.CalendarScope,
	gmail.GmailSendScope,
	sheets.SpreadsheetsScope,
}

// Credentials describe where the OAuth material lives.
type Credentials struct {
	CredentialsFile string
	TokenFile       string
	ImpersonateUser string
	// Logger receives token persistence failures. Nil discards them.
	Logger *zerolog.Logger
}

// NewHTTPClient builds an authorized client from either a service account key
// or an installed-app client secret plus a previously issued user token.
func NewHTTPClient(ctx context.Context, creds Credentials) (*http.Client, error) {
	data, err := os.ReadFile(creds.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	if probe.Type == "service_account" {
		cfg, err := google.JWTConfigFromJSON(data, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account: %w", err)
		}
		cfg.Subject = creds.ImpersonateUser
		return cfg.Client(ctx), nil
	}

	cfg, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}
	if creds.TokenFile == "" {
		return nil, errors.New("token file is required for OAuth client credentials")
	}
	tok, err := readToken(creds.TokenFile)
	if err != nil {
		return nil, err
	}

	src := &persistingSource{
		base: cfg.TokenSource(ctx, tok),
		path: creds.TokenFile,
		last: tok.AccessToken,
		log:  creds.Logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oauth token is missing, run the consent flow first: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("unable to parse oauth token: %w", err)
	}
	if tok.RefreshToken == "" && !tok.Valid() {
		return nil, errors.New("oauth token is expired and has no refresh token")
	}
	return &tok, nil
}

// persistingSource writes refreshed tokens back so restarts keep working.
type persistingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
	log  *zerolog.Logger
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	// A refreshed token is usable even when it cannot be saved; the next
	// restart just has to refresh again.
	if err := writeToken(s.path, tok); err != nil && s.log != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("could not save refreshed oauth token")
	}
	s.last = tok.AccessToken
	return tok, nil
}

func writeToken(path string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("unable to save oauth token: %w", err)
	}
	return os.Rename(tmp, path)
}
