package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/config"
	"github.com/colthorp/bsky-cli-go/internal/core"
)

// Authenticator is the part of the API client the Manager drives.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (*api.Session, error)
	ResumeSession(s *api.Session)
}

// Manager decides between a cached session and a fresh login.
//
// # Lookup
//
//   - cached entry for the profile with a matching handle and PDS: resume it
//   - otherwise: createSession with the profile's app password and cache it
//
// Tokens renewed by the API client later in the run are written back through
// the callback returned by Saver.
type Manager struct {
	backend Backend
	now     func() time.Time
}

// NewManager creates a session manager. If backend is nil, uses the default
// FilesystemBackend.
func NewManager(backend Backend) *Manager {
	if backend == nil {
		backend = NewFilesystemBackend("")
	}
	return &Manager{backend: backend, now: time.Now}
}

func pdsOf(p config.Profile) string {
	if p.PDS == "" {
		return core.DefaultPDS
	}
	return strings.TrimRight(p.PDS, "/")
}

// matches reports whether a cached entry belongs to the profile's account.
func matches(entry *SessionEntry, p config.Profile) bool {
	if entry == nil || entry.Session.AccessJwt == "" {
		return false
	}
	if entry.PDS != "" && entry.PDS != pdsOf(p) {
		return false
	}
	handle := strings.ToLower(core.NormalizeHandle(p.Handle))
	if core.IsDID(handle) {
		return entry.Session.DID == handle
	}
	return strings.EqualFold(entry.Session.Handle, handle) ||
		(p.DID != "" && entry.Session.DID == p.DID)
}

// Authenticate installs a session on auth for the named profile, reusing the
// cached one when it belongs to the same account.
func (m *Manager) Authenticate(ctx context.Context, name string, p config.Profile, auth Authenticator) (*api.Session, error) {
	if entry := m.backend.Read(name); matches(entry, p) {
		log.WithFields(log.Fields{
			"profile": name,
			"saved":   entry.SavedAt.Format(time.RFC3339),
		}).Debug("using cached session")
		s := entry.Session
		auth.ResumeSession(&s)
		return &s, nil
	}
	return m.Login(ctx, name, p, auth)
}

// Login always creates a new session and caches it.
func (m *Manager) Login(ctx context.Context, name string, p config.Profile, auth Authenticator) (*api.Session, error) {
	if p.Handle == "" || p.AppPassword == "" {
		return nil, fmt.Errorf("%w: %s", config.ErrMissingCredentials, name)
	}
	log.WithField("profile", name).Debug("creating session")
	s, err := auth.Login(ctx, core.NormalizeHandle(p.Handle), p.AppPassword)
	if err != nil {
		return nil, err
	}
	m.save(name, p, s)
	return s, nil
}

// Saver returns a callback that writes renewed sessions for the profile.
func (m *Manager) Saver(name string, p config.Profile) func(*api.Session) {
	return func(s *api.Session) {
		m.save(name, p, s)
	}
}

// Reauth returns a fallback that logs in again when the refresh token is
// rejected.
func (m *Manager) Reauth(name string, p config.Profile, auth Authenticator) func(context.Context) (*api.Session, error) {
	return func(ctx context.Context) (*api.Session, error) {
		return m.Login(ctx, name, p, auth)
	}
}

// Forget drops the cached session of a profile.
func (m *Manager) Forget(name string) error {
	if err := m.backend.Delete(name); err != nil {
		return fmt.Errorf("failed to remove cached session for %s: %w", name, err)
	}
	return nil
}

// save writes the session; failures only cost a login on the next run.
func (m *Manager) save(name string, p config.Profile, s *api.Session) {
	if s == nil {
		return
	}
	entry := &SessionEntry{
		Profile: name,
		PDS:     pdsOf(p),
		SavedAt: m.now().UTC(),
		Session: *s,
	}
	if err := m.backend.Write(entry); err != nil {
		log.WithError(err).WithField("path", m.backend.Path(name)).Warn("failed to cache session")
	}
}
