package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/colthorp/bsky-cli-go/internal/core"
)

// FilesystemBackend stores one JSON file per profile, readable only by the
// owner since it holds bearer tokens.
type FilesystemBackend struct {
	root      string
	writeLock sync.Mutex
}

// NewFilesystemBackend creates a backend rooted at root
// (default ~/.cache/bsky/sessions).
func NewFilesystemBackend(root string) *FilesystemBackend {
	if root == "" {
		root = core.SessionDir()
	}
	return &FilesystemBackend{root: root}
}

// fileName maps a profile name onto a safe file name. Names that had to be
// rewritten get a digest of the original so that "a/b" and "a_b" stay apart.
func fileName(profile string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, profile)
	if name == "" || strings.Trim(name, ".") == "" {
		name = "_" + name
	}
	if name != profile {
		sum := sha256.Sum256([]byte(profile))
		name += "-" + hex.EncodeToString(sum[:4])
	}
	return name + ".json"
}

// Path returns the filesystem path for profile.
func (b *FilesystemBackend) Path(profile string) string {
	return filepath.Join(b.root, fileName(profile))
}

// Read returns the cached entry for profile or nil if absent.
func (b *FilesystemBackend) Read(profile string) *SessionEntry {
	path := b.Path(profile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var entry SessionEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Session.AccessJwt == "" {
		// Corrupt file, remove it
		log.WithField("path", path).Debug("discarding unreadable session cache")
		os.Remove(path)
		return nil
	}
	return &entry
}

// Write persists the entry atomically.
func (b *FilesystemBackend) Write(entry *SessionEntry) error {
	if entry == nil || entry.Profile == "" {
		return fmt.Errorf("session entry without profile")
	}
	path := b.Path(entry.Profile)

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Delete removes the cached entry for profile.
func (b *FilesystemBackend) Delete(profile string) error {
	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	if err := os.Remove(b.Path(profile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
