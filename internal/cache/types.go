// Package cache keeps authenticated sessions between invocations.
//
// # Overview
//
// Creating a session is one of the most tightly limited calls on the hosted
// PDS, so each profile's session (access and refresh JWT) is stored under
// ~/.cache/bsky/sessions/<profile>.json and reused until the server rejects
// it. The API client renews an expired access token with the refresh token;
// the renewed pair is written back through the Manager.
//
// # Cache File Structure
//
// Each cache file contains:
//
//	{
//	  "profile": "work",
//	  "pds": "https://bsky.social",
//	  "saved_at": "2024-07-15T10:00:00Z",
//	  "session": {"accessJwt": "...", "refreshJwt": "...", "handle": "...", "did": "..."}
//	}
//
// # Validity Rules
//
// A cached entry is reused only when its handle (or DID) and PDS match the
// profile it is loaded for. Anything else, including a corrupt file, means a
// fresh createSession.
package cache

import (
	"time"

	"github.com/colthorp/bsky-cli-go/internal/api"
)

// SessionEntry is one profile's cached session.
type SessionEntry struct {
	Profile string      `json:"profile"`
	PDS     string      `json:"pds,omitempty"`
	SavedAt time.Time   `json:"saved_at"`
	Session api.Session `json:"session"`
}

// Backend is the interface for session storage backends.
// The default implementation is FilesystemBackend which stores JSON files on disk.
type Backend interface {
	// Read returns the entry for profile or nil if absent or unreadable.
	Read(profile string) *SessionEntry

	// Write persists the entry atomically.
	Write(entry *SessionEntry) error

	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(profile string) error

	// Path returns where the entry for profile lives (for debugging).
	Path(profile string) string
}
