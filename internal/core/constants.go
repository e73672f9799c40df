// Package core provides shared constants and helpers for the bsky CLI.
package core

import (
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// Service endpoints
const (
	DefaultPDS   = "https://bsky.social"
	PublicAppURL = "https://bsky.app"
)

// Environment variables (read through viper with the BSKY prefix)
const (
	EnvPrefix     = "BSKY"
	EnvProfile    = "BSKY_PROFILE"
	EnvReqRPS     = "BSKY_REQ_RPS"
	EnvReqBurst   = "BSKY_REQ_BURST"
	EnvPDS        = "BSKY_PDS"
	DefaultSuffix = ".bsky.social"
)

// Client-side throttling defaults. Conservative against the hosted PDS limit
// of 3000 requests per 5 minutes.
const (
	DefaultReqRPS   = 8.0
	DefaultReqBurst = 16.0
)

// Batch pacing defaults for follow/unfollow.
const (
	DefaultMinDelay = 2.2
	DefaultMaxDelay = 3.6
	DefaultBuffer   = 0.1
)

// Record collections
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionRepost = "app.bsky.feed.repost"
	CollectionFollow = "app.bsky.graph.follow"
)

// Limits
const (
	PostGraphemeLimit = 300
	MaxPageSize       = 100
)

// Version is the current CLI version.
const Version = "0.3.0"

func homeDir() string {
	home, err := homedir.Dir()
	if err != nil {
		home = "."
	}
	return home
}

// ConfigPath returns the default profile store path.
func ConfigPath() string {
	return filepath.Join(homeDir(), ".config", "bsky", "config.json")
}

// CacheRoot returns the default cache directory path.
func CacheRoot() string {
	return filepath.Join(homeDir(), ".cache", "bsky")
}

// RateStateDir holds the shared token bucket state.
func RateStateDir() string {
	return filepath.Join(CacheRoot(), "ratelimit")
}

// SessionDir holds cached sessions, one file per profile.
func SessionDir() string {
	return filepath.Join(CacheRoot(), "sessions")
}
