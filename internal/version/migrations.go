package version

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/rs/zerolog"
)

// ErrMigrationFailed wraps any error returned by a migration script
var ErrMigrationFailed = errors.New("migration failed")

// MigrateFunc transforms settings from one version's shape to the next
type MigrateFunc func(settings core.Settings) (core.Settings, error)

// MigrationScript moves settings from version From to version To
type MigrationScript struct {
	From        string
	To          string
	Description string
	Migrate     MigrateFunc
}

// Manager keeps registered migration scripts ordered by From
type Manager struct {
	mu      sync.RWMutex
	scripts []MigrationScript
	logger  *zerolog.Logger
}

// NewManager creates an empty migration manager
func NewManager(logger *zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a script. Scripts stay sorted by From; scripts with equal From
// keep their registration order.
func (m *Manager) Register(script MigrationScript) error {
	if script.Migrate == nil {
		return fmt.Errorf("migration %s -> %s has no migrate function", script.From, script.To)
	}
	if Compare(script.From, script.To) > 0 {
		return fmt.Errorf("migration %s -> %s goes backwards", script.From, script.To)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, script)
	sort.SliceStable(m.scripts, func(i, j int) bool {
		return Compare(m.scripts[i].From, m.scripts[j].From) < 0
	})
	return nil
}

// Path returns the scripts that apply between from and to: every script whose
// From is >= from and whose To is <= to, in order. A wildcard From such as
// "1.x" or "1.*" names a whole line and applies when from falls inside it.
func (m *Manager) Path(from, to string) []MigrationScript {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var path []MigrationScript
	for _, s := range m.scripts {
		if startsWithin(s.From, from) && Compare(s.To, to) <= 0 {
			path = append(path, s)
		}
	}
	return path
}

func startsWithin(scriptFrom, from string) bool {
	if Compare(scriptFrom, from) >= 0 {
		return true
	}
	if !isWildcard(scriptFrom) {
		return false
	}
	ok, err := Satisfies(Normalize(from), Normalize(scriptFrom))
	return err == nil && ok
}

func isWildcard(v string) bool {
	return strings.ContainsAny(v, "xX*")
}

// Migrate runs the migration path from -> to over a copy of settings, threading
// each script's output into the next. The first failing script aborts the chain.
// The input settings are never modified.
func (m *Manager) Migrate(from, to string, settings core.Settings) (core.Settings, error) {
	current := settings.Clone()
	if current == nil {
		current = core.Settings{}
	}

	for _, script := range m.Path(from, to) {
		if m.logger != nil {
			m.logger.Debug().
				Str("from", script.From).
				Str("to", script.To).
				Str("description", script.Description).
				Msg("running migration")
		}

		next, err := script.Migrate(current)
		if err != nil {
			return nil, fmt.Errorf("%w: migrating settings from %s to %s (step %s -> %s): %v",
				ErrMigrationFailed, from, to, script.From, script.To, err)
		}
		if next == nil {
			next = core.Settings{}
		}
		current = next
	}
	return current, nil
}
