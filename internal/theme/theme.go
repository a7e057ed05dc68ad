// Package theme owns the light/dark display preference of a session.
package theme

import (
	"fmt"
	"strings"
	"sync"
)

type Theme string

const (
	Light  Theme = "light"
	Dark   Theme = "dark"
	System Theme = "system"
)

func Parse(s string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(s))); t {
	case Light, Dark, System:
		return t, nil
	}
	return "", fmt.Errorf("unknown theme %q", s)
}

// Store persists preferences by key.
type Store interface {
	Load(key string) (Theme, bool, error)
	Save(key string, t Theme) error
}

// Preference is the theme of one owner, backed by a Store.
type Preference struct {
	mu      sync.Mutex
	store   Store
	key     string
	current Theme
}

// Init reads the persisted preference for key. Without one it starts from
// the system preference, falling back to def when the system gives no hint.
func Init(store Store, key string, systemDark *bool, def Theme) (*Preference, error) {
	p := &Preference{store: store, key: key}
	t, ok, err := store.Load(key)
	if err != nil {
		return nil, fmt.Errorf("load theme: %w", err)
	}
	switch {
	case ok:
		p.current = t
	case systemDark != nil && *systemDark:
		p.current = Dark
	case systemDark != nil:
		p.current = Light
	case def != "":
		p.current = def
	default:
		p.current = Light
	}
	return p, nil
}

func (p *Preference) Current() Theme {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Resolved maps System to the concrete theme the client reports.
func (p *Preference) Resolved(systemDark bool) Theme {
	t := p.Current()
	if t != System {
		return t
	}
	if systemDark {
		return Dark
	}
	return Light
}

// Set changes and persists the preference.
func (p *Preference) Set(t Theme) error {
	if _, err := Parse(string(t)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Save(p.key, t); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	p.current = t
	return nil
}

// Toggle flips dark to light and anything else to dark.
func (p *Preference) Toggle() (Theme, error) {
	next := Dark
	if p.Current() == Dark {
		next = Light
	}
	if err := p.Set(next); err != nil {
		return "", err
	}
	return next, nil
}
