// Package prefs persists dashboard preferences: blocked mail domains and font size.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"tracklight/internal/logger"
	"tracklight/pkg/utils"
)

// Font size bounds in pixels.
const (
	DefaultFontSize = 18
	MinFontSize     = 12
	MaxFontSize     = 36
)

// Preference errors.
var (
	ErrInvalidFontSize = fmt.Errorf("font size must be between %d and %d", MinFontSize, MaxFontSize)
	ErrEmptyDomain     = errors.New("domain is empty")
)

// Preferences are the user-adjustable dashboard settings.
type Preferences struct {
	BlockedDomains []string `yaml:"blocked_domains"`
	FontSize       int      `yaml:"font_size"`
}

// Defaults returns the preferences used when no file exists.
func Defaults() Preferences {
	return Preferences{FontSize: DefaultFontSize}
}

// Store reads and writes the preferences file.
type Store struct {
	path  string
	mu    sync.Mutex
	prefs Preferences
	log   *logger.Logger
}

// Open loads the preferences at path. A missing or unreadable file yields the
// defaults; the file is only written on the next change.
func Open(path string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}

	s := &Store{path: path, prefs: Defaults(), log: log}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("preferences unreadable, using defaults", "path", path, "error", err)
		}

		return s
	}

	var p Preferences
	if err := yaml.Unmarshal(data, &p); err != nil {
		log.Warn("preferences malformed, using defaults", "path", path, "error", err)

		return s
	}

	if p.FontSize < MinFontSize || p.FontSize > MaxFontSize {
		p.FontSize = DefaultFontSize
	}

	s.prefs = p

	return s
}

// Get returns a copy of the current preferences.
func (s *Store) Get() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.prefs
	p.BlockedDomains = slices.Clone(s.prefs.BlockedDomains)

	return p
}

// BlockedDomains returns the blocked mail domains.
func (s *Store) BlockedDomains() []string {
	return s.Get().BlockedDomains
}

// BlockDomain adds domain to the blocked list. It reports false when the domain was
// already blocked.
func (s *Store) BlockDomain(domain string) (bool, error) {
	domain = normalizeDomain(domain)
	if domain == "" {
		return false, ErrEmptyDomain
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.prefs.BlockedDomains, domain) {
		return false, nil
	}

	next := s.prefs
	next.BlockedDomains = append(slices.Clone(s.prefs.BlockedDomains), domain)

	if err := s.save(next); err != nil {
		return false, err
	}

	return true, nil
}

// UnblockDomain removes domain from the blocked list. It reports false when the
// domain was not blocked.
func (s *Store) UnblockDomain(domain string) (bool, error) {
	domain = normalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.prefs.BlockedDomains, domain)
	if i < 0 {
		return false, nil
	}

	next := s.prefs
	next.BlockedDomains = slices.Delete(slices.Clone(s.prefs.BlockedDomains), i, i+1)

	if err := s.save(next); err != nil {
		return false, err
	}

	return true, nil
}

// SetFontSize changes the body font size.
func (s *Store) SetFontSize(size int) error {
	if size < MinFontSize || size > MaxFontSize {
		return ErrInvalidFontSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.prefs
	next.FontSize = size

	return s.save(next)
}

func (s *Store) save(p Preferences) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	if err := utils.WriteFileAtomic(s.path, data, 0o600, nil); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}

	s.prefs = p

	return nil
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))

	return strings.TrimPrefix(d, "www.")
}
