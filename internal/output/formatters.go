// Package output renders API results as text, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/config"
	"github.com/colthorp/bsky-cli-go/internal/core"
)

// Format selects how results are printed.
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", Text:
		return Text, nil
	case JSON, YAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// Printer writes results to w in one format.
type Printer struct {
	w      io.Writer
	format Format

	handle *color.Color
	dim    *color.Color
	active *color.Color
}

// NewPrinter creates a printer. Colors apply to text output only and are
// left to fatih/color's terminal detection unless colored is false.
func NewPrinter(w io.Writer, format Format, colored bool) *Printer {
	p := &Printer{
		w:      w,
		format: format,
		handle: color.New(color.FgCyan, color.Bold),
		dim:    color.New(color.Faint),
		active: color.New(color.FgGreen),
	}
	if !colored {
		for _, c := range []*color.Color{p.handle, p.dim, p.active} {
			c.DisableColor()
		}
	}
	return p
}

// structured prints v as JSON or YAML and reports whether it did.
func (p *Printer) structured(v interface{}) (bool, error) {
	switch p.format {
	case JSON:
		return true, PrintJSON(p.w, v)
	case YAML:
		return true, PrintYAML(p.w, v)
	default:
		return false, nil
	}
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// PrintYAML writes v as YAML using its JSON field names.
func PrintYAML(w io.Writer, v interface{}) error {
	// Round-trip through JSON so the lexicon names (and omitempty) apply.
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func postLink(post api.PostView) string {
	return core.PostURL(post.Author.Handle, core.RKeyFromURI(post.URI))
}

// Timeline prints feed entries.
func (p *Printer) Timeline(feed []api.FeedViewPost) error {
	if ok, err := p.structured(feed); ok {
		return err
	}
	for _, item := range feed {
		post := item.Post
		fmt.Fprintf(p.w, "%s · %s\n", p.handle.Sprint("@"+post.Author.Handle), core.FormatPostTime(post.Record.CreatedAt))
		if item.Reason != nil && item.Reason.By != nil {
			fmt.Fprintf(p.w, "  %s\n", p.dim.Sprintf("🔁 reposted by @%s", item.Reason.By.Handle))
		}
		fmt.Fprintf(p.w, "  %s\n", core.Truncate(post.Record.Text, 200))
		fmt.Fprintf(p.w, "  ❤️ %d  🔁 %d  💬 %d\n", post.LikeCount, post.RepostCount, post.ReplyCount)
		fmt.Fprintf(p.w, "  🔗 %s\n\n", postLink(post))
	}
	return nil
}

// Search prints search hits, or "No results found." when there are none.
func (p *Printer) Search(posts []api.PostView) error {
	if ok, err := p.structured(posts); ok {
		return err
	}
	if len(posts) == 0 {
		fmt.Fprintln(p.w, "No results found.")
		return nil
	}
	for _, post := range posts {
		fmt.Fprintf(p.w, "%s: %s\n", p.handle.Sprint("@"+post.Author.Handle), core.Truncate(post.Record.Text, 150))
		fmt.Fprintf(p.w, "  ❤️ %d  🔗 %s\n\n", post.LikeCount, postLink(post))
	}
	return nil
}

var reasonIcons = map[string]string{
	"like":    "❤️",
	"repost":  "🔁",
	"follow":  "👤",
	"reply":   "💬",
	"mention": "📢",
	"quote":   "💭",
}

// NotificationMessage renders one notification without icon or time.
func NotificationMessage(n api.Notification) string {
	who := "@" + n.Author.Handle
	switch n.Reason {
	case "like":
		return who + " liked your post"
	case "repost":
		return who + " reposted"
	case "follow":
		return who + " followed you"
	case "reply":
		return who + " replied"
	case "mention":
		return who + " mentioned you"
	case "quote":
		return who + " quoted you"
	default:
		return fmt.Sprintf("%s from %s", n.Reason, who)
	}
}

// Notifications prints one line per notification.
func (p *Printer) Notifications(items []api.Notification) error {
	if ok, err := p.structured(items); ok {
		return err
	}
	for _, n := range items {
		icon, ok := reasonIcons[n.Reason]
		if !ok {
			icon = "•"
		}
		when := n.IndexedAt
		if len(when) > 16 {
			when = when[:16]
		}
		fmt.Fprintf(p.w, "%s %s %s\n", icon, NotificationMessage(n), p.dim.Sprint("· "+when))
	}
	return nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// Profile prints a profile card.
func (p *Printer) Profile(profile *api.ProfileViewDetailed) error {
	if ok, err := p.structured(profile); ok {
		return err
	}
	fmt.Fprintln(p.w, p.handle.Sprint("@"+profile.Handle))
	fmt.Fprintf(p.w, "  Name: %s\n", orNone(profile.DisplayName))
	fmt.Fprintf(p.w, "  Bio: %s\n", orNone(profile.Description))
	fmt.Fprintf(p.w, "  Followers: %s\n", humanize.Comma(int64(profile.FollowersCount)))
	fmt.Fprintf(p.w, "  Following: %s\n", humanize.Comma(int64(profile.FollowsCount)))
	fmt.Fprintf(p.w, "  Posts: %s\n", humanize.Comma(int64(profile.PostsCount)))
	fmt.Fprintf(p.w, "  DID: %s\n", profile.DID)
	return nil
}

// AccountView is the structured form of one stored profile. The app password
// is never printed.
type AccountView struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
	DID    string `json:"did,omitempty"`
	PDS    string `json:"pds,omitempty"`
	Active bool   `json:"active"`
}

// Accounts lists stored profiles, marking the active one with *.
func (p *Printer) Accounts(cfg *config.Config) error {
	views := make([]AccountView, 0, len(cfg.Profiles))
	for _, name := range cfg.Names() {
		prof := cfg.Profiles[name]
		views = append(views, AccountView{
			Name:   name,
			Handle: prof.Handle,
			DID:    prof.DID,
			PDS:    prof.PDS,
			Active: name == cfg.Active,
		})
	}
	if ok, err := p.structured(views); ok {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(p.w, "No profiles configured. Use: bsky login --name <profile> --handle <handle> --password <app-password>")
		return nil
	}
	for _, v := range views {
		marker := " "
		if v.Active {
			marker = p.active.Sprint("*")
		}
		handle, did := v.Handle, v.DID
		if handle == "" {
			handle = "(missing handle)"
		}
		if did == "" {
			did = "(no did)"
		}
		fmt.Fprintf(p.w, "%s %s: %s  %s\n", marker, v.Name, handle, p.dim.Sprint(did))
	}
	return nil
}

// Whoami prints the selected profile's identity.
func (p *Printer) Whoami(name string, s *api.Session) error {
	view := AccountView{Name: name, Handle: s.Handle, DID: s.DID, Active: true}
	if ok, err := p.structured(view); ok {
		return err
	}
	fmt.Fprintf(p.w, "Profile: %s\n", name)
	fmt.Fprintf(p.w, "Handle: %s\n", s.Handle)
	fmt.Fprintf(p.w, "DID: %s\n", s.DID)
	return nil
}
