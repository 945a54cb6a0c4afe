package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession means no usable credential is available right now. Callers
// treat it as "not signed in on this workspace", not as a failure.
var ErrNoSession = errors.New("no session")

// Gateway supplies the bearer credential for API calls. The client never
// creates or refreshes credentials itself.
type Gateway interface {
	Token(ctx context.Context) (string, error)
}

// FileGateway reads the bearer token from a file in the workspace, written
// by `verdyct login`. An expired JWT counts as absent; signature checking is
// the server's job, so the token is only inspected, never verified.
type FileGateway struct {
	Path string
	Now  func() time.Time
}

func NewFileGateway(path string) *FileGateway {
	return &FileGateway{Path: path}
}

func (g *FileGateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *FileGateway) Token(_ context.Context) (string, error) {
	data, err := os.ReadFile(g.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoSession
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoSession
	}
	if expired, err := tokenExpired(token, g.now()); err == nil && expired {
		return "", ErrNoSession
	}
	return token, nil
}

// Store writes a token for later Token calls. Used by `verdyct login`.
func (g *FileGateway) Store(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	if err := os.MkdirAll(filepath.Dir(g.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(g.Path, []byte(token+"\n"), 0o600)
}

// Clear removes the stored token.
func (g *FileGateway) Clear() error {
	if err := os.Remove(g.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// tokenExpired inspects the exp claim of a JWT. Non-JWT tokens (opaque
// bearer strings) pass through untouched.
func tokenExpired(token string, now time.Time) (bool, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false, err
	}
	if claims.ExpiresAt == nil {
		return false, nil
	}
	return claims.ExpiresAt.Before(now), nil
}

// Static is a Gateway returning a fixed token; tests and one-shot commands
// use it.
type Static string

func (s Static) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", ErrNoSession
	}
	return string(s), nil
}
