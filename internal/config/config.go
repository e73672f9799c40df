// Package config persists named Bluesky profiles (handle, app password, DID)
// and the active-profile selector in ~/.config/bsky/config.json.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/colthorp/bsky-cli-go/internal/core"
)

var (
	// ErrNoProfile is returned when neither flag, env nor active selects a profile.
	ErrNoProfile = errors.New("no profile selected")

	// ErrUnknownProfile is returned for names missing from the store.
	ErrUnknownProfile = errors.New("unknown profile")

	// ErrMissingCredentials is returned for profiles without handle or password.
	ErrMissingCredentials = errors.New("profile is missing credentials")
)

// Profile is one stored account.
type Profile struct {
	Handle      string `json:"handle"`
	AppPassword string `json:"app_password"`
	DID         string `json:"did,omitempty"`
	PDS         string `json:"pds,omitempty"`
}

// Config is the on-disk document.
type Config struct {
	Active   string             `json:"active,omitempty"`
	Profiles map[string]Profile `json:"profiles"`
}

// legacyConfig is the single-account layout written by early versions.
type legacyConfig struct {
	Handle      string `json:"handle"`
	AppPassword string `json:"app_password"`
	DID         string `json:"did"`
	Active      string `json:"active"`
}

// Store reads and writes a Config file.
type Store struct {
	path string
}

// NewStore returns a store at path, or at the default location when empty.
func NewStore(path string) *Store {
	if path == "" {
		path = core.ConfigPath()
	}
	return &Store{path: path}
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the config. A missing file is an empty config; a corrupt file is
// treated as empty with a warning so that login can repair it.
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", s.path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		log.WithError(err).Warnf("ignoring unreadable config file %s", s.path)
		return empty(), nil
	}
	return cfg, nil
}

func empty() *Config {
	return &Config{Profiles: map[string]Profile{}}
}

func parse(data []byte) (*Config, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	if _, ok := raw["profiles"]; ok {
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		if cfg.Profiles == nil {
			cfg.Profiles = map[string]Profile{}
		}
		return &cfg, nil
	}

	// Migrate the single-account layout in memory.
	var legacy legacyConfig
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}
	cfg := empty()
	if legacy.Handle != "" && legacy.AppPassword != "" {
		cfg.Profiles["default"] = Profile{
			Handle:      legacy.Handle,
			AppPassword: legacy.AppPassword,
			DID:         legacy.DID,
		}
		cfg.Active = legacy.Active
		if cfg.Active == "" {
			cfg.Active = "default"
		}
	}
	return cfg, nil
}

// Save writes the config atomically with owner-only permissions.
func (s *Store) Save(cfg *Config) error {
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace config file %s: %w", s.path, err)
	}
	return nil
}

// Names returns profile names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Upsert stores p under name. The first stored profile becomes active, and
// setActive forces it. It reports whether name is active afterwards.
func (c *Config) Upsert(name string, p Profile, setActive bool) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, errors.New("missing profile name")
	}
	if c.Profiles == nil {
		c.Profiles = map[string]Profile{}
	}
	c.Profiles[name] = p
	if setActive || c.Active == "" {
		c.Active = name
	}
	return c.Active == name, nil
}

// SetActive selects an existing profile.
func (c *Config) SetActive(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	c.Active = name
	return nil
}

// Remove deletes a profile. When it was active the first remaining profile
// (by name) takes over, or none.
func (c *Config) Remove(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	delete(c.Profiles, name)
	if c.Active == name {
		c.Active = ""
		if names := c.Names(); len(names) > 0 {
			c.Active = names[0]
		}
	}
	return nil
}

// Resolve picks the profile for this invocation: the explicit name first,
// then the environment selection, then the active profile.
func (c *Config) Resolve(explicit, fromEnv string) (string, Profile, error) {
	name := explicit
	if name == "" {
		name = fromEnv
	}
	if name == "" {
		name = c.Active
	}
	if name == "" {
		return "", Profile{}, ErrNoProfile
	}
	p, ok := c.Profiles[name]
	if !ok {
		return name, Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	if p.Handle == "" || p.AppPassword == "" {
		return name, p, fmt.Errorf("%w: %s", ErrMissingCredentials, name)
	}
	return name, p, nil
}
