// Package richtext detects links, hashtags and mentions in post text and
// turns them into AT Protocol facets.
package richtext

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/core"
)

// ErrTooLong is returned for posts over the grapheme limit.
var ErrTooLong = errors.New("post is too long")

// Kind is the type of a detected span.
type Kind int

const (
	Link Kind = iota
	Tag
	Mention
)

func (k Kind) String() string {
	switch k {
	case Link:
		return "link"
	case Tag:
		return "tag"
	case Mention:
		return "mention"
	}
	return "unknown"
}

// Token is a detected span. Start and End are UTF-8 byte offsets.
type Token struct {
	Kind  Kind
	Text  string
	Start int
	End   int
}

// Resolver maps a handle to its DID.
type Resolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

var (
	linkPattern    = `https?://[^\s]+`
	tagPattern     = `#[A-Za-z0-9_]+`
	mentionPattern = `@[A-Za-z0-9_.-]+(?:\.[A-Za-z0-9_.-]+)*`

	tokenRe = regexp.MustCompile(linkPattern + `|` + tagPattern + `|` + mentionPattern)
)

// Detect returns the spans of text in order of appearance.
func Detect(text string) []Token {
	var tokens []Token
	for _, loc := range tokenRe.FindAllStringIndex(text, -1) {
		s := text[loc[0]:loc[1]]
		tok := Token{Text: s, Start: loc[0], End: loc[1]}
		switch {
		case strings.HasPrefix(s, "#"):
			tok.Kind = Tag
		case strings.HasPrefix(s, "@"):
			tok.Kind = Mention
		default:
			tok.Kind = Link
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Validate rejects text longer than the post limit.
func Validate(text string) error {
	if n := core.GraphemeLen(text); n > core.PostGraphemeLimit {
		return fmt.Errorf("%w: %d characters (limit %d)", ErrTooLong, n, core.PostGraphemeLimit)
	}
	return nil
}

// Build validates text and returns its facets. Mentions that cannot be
// resolved stay plain text.
func Build(ctx context.Context, text string, resolver Resolver) ([]api.Facet, error) {
	if err := Validate(text); err != nil {
		return nil, err
	}

	var facets []api.Facet
	for _, tok := range Detect(text) {
		var feature api.FacetFeature
		switch tok.Kind {
		case Link:
			feature = api.FacetFeature{Type: api.FacetLink, URI: tok.Text}
		case Tag:
			feature = api.FacetFeature{Type: api.FacetTag, Tag: tok.Text[1:]}
		case Mention:
			if resolver == nil {
				continue
			}
			handle := core.NormalizeHandle(tok.Text)
			did, err := resolver.ResolveHandle(ctx, handle)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.WithError(err).WithField("handle", handle).Debug("mention left as plain text")
				continue
			}
			feature = api.FacetFeature{Type: api.FacetMention, DID: did}
		}
		facets = append(facets, api.Facet{
			Index:    api.ByteSlice{ByteStart: tok.Start, ByteEnd: tok.End},
			Features: []api.FacetFeature{feature},
		})
	}
	return facets, nil
}
