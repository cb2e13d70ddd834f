// Package accounts reads the user list the worker polls on behalf of. Users
// live in a JSON file owned by the account service; the core only reads it
// and never mutates credentials. A filesystem watcher reloads the file on
// change so new accounts are picked up without a restart.
package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Settings holds the per-user credentials and trigger configuration.
type Settings struct {
	DeviceEmail      string `json:"deviceEmail"`
	DevicePassword   string `json:"devicePassword"`
	DeviceURL        string `json:"deviceUrl"`
	CompletionAPIKey string `json:"completionApiKey"`
	// TriggerPrefix lists the accepted leading characters for this user;
	// empty means the global default applies.
	TriggerPrefix string `json:"triggerPrefix,omitempty"`
}

// User is one account record.
type User struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	Settings Settings  `json:"settings"`
	Created  time.Time `json:"created,omitzero"`
}

// active reports whether the user has everything both the device login and
// the completion service need.
func (u User) active() bool {
	s := u.Settings
	return s.DeviceEmail != "" && s.DevicePassword != "" && s.DeviceURL != "" && s.CompletionAPIKey != ""
}

// Provider loads users from a JSON file and serves snapshots of it.
type Provider struct {
	path string

	mu    sync.RWMutex
	users []User
}

// NewProvider creates a Provider for the given users file and performs an
// initial load. A missing file is not an error; it reads as zero users.
func NewProvider(path string) (*Provider, error) {
	p := &Provider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the users file. On parse errors the previous snapshot is
// kept and the error returned.
func (p *Provider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			p.users = nil
			p.mu.Unlock()
			return nil
		}
		return fmt.Errorf("reading users file: %w", err)
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("parsing users file: %w", err)
	}

	p.mu.Lock()
	p.users = users
	p.mu.Unlock()
	return nil
}

// All returns a copy of every known user.
func (p *Provider) All() []User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]User, len(p.users))
	copy(out, p.users)
	return out
}

// Active returns the users that have full device and completion credentials,
// the only ones the worker loop will touch.
func (p *Provider) Active() []User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []User
	for _, u := range p.users {
		if u.active() {
			out = append(out, u)
		}
	}
	return out
}

// Add appends a user to the file with read-modify-write semantics. Used by
// the CLI only; the worker never writes accounts.
func (p *Provider) Add(u User) error {
	if err := p.Reload(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.users {
		if existing.Email == u.Email {
			return fmt.Errorf("user %s already exists", u.Email)
		}
	}
	users := append(append([]User(nil), p.users...), u)

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return err
	}

	p.users = users
	return nil
}

// Path returns the watched file path.
func (p *Provider) Path() string { return p.path }
