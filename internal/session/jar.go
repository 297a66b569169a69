package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Jar persists the serialized projection of a session (its token).
// The auth store is the only writer.
type Jar interface {
	Token() (string, bool)
	Save(token string, expiresAt *time.Time) error
	Clear() error
}

// =============================================================================
// RequestJar
// =============================================================================

// RequestJar binds a jar to one HTTP exchange: reads come from the request
// cookies (or from the last write during this request), writes go out as
// Set-Cookie headers on the response.
type RequestJar struct {
	w        http.ResponseWriter
	isSecure bool

	mu      sync.Mutex
	token   string
	present bool
}

// NewRequestJar creates a jar for the given request/response pair.
func NewRequestJar(w http.ResponseWriter, r *http.Request, isSecure bool) *RequestJar {
	token, ok := TokenFromRequest(r)
	return &RequestJar{
		w:        w,
		isSecure: isSecure,
		token:    token,
		present:  ok,
	}
}

func (j *RequestJar) Token() (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.token, j.present
}

func (j *RequestJar) Save(token string, expiresAt *time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	SetCookie(j.w, token, expiresAt, j.isSecure)
	j.token, j.present = token, true
	return nil
}

func (j *RequestJar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	ClearCookies(j.w, j.isSecure)
	j.token, j.present = "", false
	return nil
}

// =============================================================================
// MemoryJar
// =============================================================================

// MemoryJar keeps the token in memory. Safe for concurrent use.
type MemoryJar struct {
	mu        sync.Mutex
	token     string
	expiresAt *time.Time
}

// NewMemoryJar returns a jar preloaded with token (empty means no cookie).
func NewMemoryJar(token string) *MemoryJar {
	return &MemoryJar{token: token}
}

func (j *MemoryJar) Token() (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.token, j.token != ""
}

func (j *MemoryJar) Save(token string, expiresAt *time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.token, j.expiresAt = token, expiresAt
	return nil
}

func (j *MemoryJar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.token, j.expiresAt = "", nil
	return nil
}

// =============================================================================
// FileJar
// =============================================================================

// FileJar persists the token to a file readable only by the current user.
// Used by the admin console, which outlives any single request.
type FileJar struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

type fileCookie struct {
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// NewFileJar creates a jar stored at path. The file need not exist yet.
func NewFileJar(path string) *FileJar {
	return &FileJar{path: path, now: time.Now}
}

// DefaultFilePath returns the per-user location of the console's cookie file.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "posadmin", CookieName+".json"), nil
}

// Token returns the stored token unless it is missing, unreadable or expired.
func (j *FileJar) Token() (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		return "", false
	}
	var c fileCookie
	if err := json.Unmarshal(data, &c); err != nil || c.Value == "" {
		return "", false
	}
	if c.ExpiresAt != nil && j.now().After(*c.ExpiresAt) {
		return "", false
	}
	return c.Value, true
}

func (j *FileJar) Save(token string, expiresAt *time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	data, err := json.Marshal(fileCookie{Name: CookieName, Value: token, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("encode cookie: %w", err)
	}
	if err := os.WriteFile(j.path, data, 0o600); err != nil {
		return fmt.Errorf("write cookie: %w", err)
	}
	return nil
}

func (j *FileJar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cookie: %w", err)
	}
	return nil
}

var (
	_ Jar = (*RequestJar)(nil)
	_ Jar = (*MemoryJar)(nil)
	_ Jar = (*FileJar)(nil)
)
