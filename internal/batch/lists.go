// Package batch runs follow/unfollow over handle lists, checkpointing after
// every actor so an interrupted run can be resumed.
package batch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/colthorp/bsky-cli-go/internal/core"
)

// ParseActorLines reads one actor per line. Blank lines and # comments (whole
// line or trailing) are dropped, as are repeats.
func ParseActorLines(r io.Reader) ([]string, error) {
	var out []string
	seen := map[string]bool{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadActorLines parses the list file at path (~ is expanded).
func ReadActorLines(path string) ([]string, error) {
	expanded, err := core.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("list file not found: %s", expanded)
		}
		return nil, fmt.Errorf("failed to open list file: %w", err)
	}
	defer f.Close()

	actors, err := ParseActorLines(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read list file %s: %w", expanded, err)
	}
	return actors, nil
}

// NormalizeActors keeps the first limit entries (all when limit <= 0), then
// normalizes each handle and drops entries that collapse onto an earlier one
// ("@x" and "x").
func NormalizeActors(actors []string, limit int) []string {
	if limit > 0 && len(actors) > limit {
		actors = actors[:limit]
	}
	out := make([]string, 0, len(actors))
	seen := map[string]bool{}
	for _, raw := range actors {
		a := core.NormalizeHandle(raw)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// AtomicWriteLines replaces path with lines, one per line.
func AtomicWriteLines(path string, lines []string) error {
	expanded, err := core.ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", expanded, err)
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	tmpPath := expanded + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, expanded); err != nil {
		return fmt.Errorf("failed to replace %s: %w", expanded, err)
	}
	return nil
}

// AppendLine appends line to path. An empty path is a no-op.
func AppendLine(path, line string) error {
	if path == "" {
		return nil
	}
	expanded, err := core.ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", expanded, err)
	}
	f, err := os.OpenFile(expanded, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", expanded, err)
	}
	if _, err := fmt.Fprintln(f, strings.TrimRight(line, "\n")); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", expanded, err)
	}
	return f.Close()
}
