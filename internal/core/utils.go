package core

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/rivo/uniseg"
	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the package-level logrus logger.
// Logs go to w (stderr in the CLI); verbose wins over quiet.
func SetupLogging(w io.Writer, verbose, quiet bool) {
	if w == nil {
		w = os.Stderr
	}
	log.SetOutput(w)
	log.SetFormatter(&log.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           false,
	})
	switch {
	case verbose:
		log.SetLevel(log.DebugLevel)
	case quiet:
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", path, err)
	}
	return expanded, nil
}

// IsDID reports whether s looks like a DID rather than a handle.
func IsDID(s string) bool {
	return strings.HasPrefix(s, "did:")
}

// NormalizeHandle strips a leading @ and appends .bsky.social to bare names.
// DIDs are returned untouched.
func NormalizeHandle(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "@")
	if value != "" && !strings.Contains(value, ".") && !IsDID(value) {
		value += DefaultSuffix
	}
	return value
}

// RKeyFromURI returns the last path segment of an at:// URI (the record key).
func RKeyFromURI(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// PostURL builds the public bsky.app URL of a post.
func PostURL(handle, rkey string) string {
	return fmt.Sprintf("%s/profile/%s/post/%s", PublicAppURL, handle, rkey)
}

// RecordURI builds an at:// URI.
func RecordURI(did, collection, rkey string) string {
	return fmt.Sprintf("at://%s/%s/%s", did, collection, rkey)
}

// FormatPostTime renders an RFC 3339 timestamp as "Jan 02 15:04".
// Unparseable values fall back to their first 16 characters.
func FormatPostTime(created string) string {
	if created == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		if len(created) > 16 {
			return created[:16]
		}
		return created
	}
	return t.Format("Jan 02 15:04")
}

// Truncate shortens s to at most n grapheme clusters.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if uniseg.GraphemeClusterCount(s) <= n {
		return s
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for i := 0; i < n && g.Next(); i++ {
		b.WriteString(g.Str())
	}
	return b.String()
}

// GraphemeLen counts user-perceived characters.
func GraphemeLen(s string) int {
	return uniseg.GraphemeClusterCount(s)
}
