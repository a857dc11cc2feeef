// Package normalize converts raw newsletter bodies into clean plain text.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"

	"github.com/Triyansha/newsletter-rag/internal/domain"
)

// MinContentLength is the minimum cleaned text length considered usable.
// Shorter extractions are treated as failures (tracking-pixel shells,
// image-only mails).
const MinContentLength = 50

// Document is the normalized form of one newsletter.
type Document struct {
	Title     string
	Text      string
	WordCount int
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	separatorRe  = regexp.MustCompile(`^[-=_*]{10,}$`)
	blankRunsRe  = regexp.MustCompile(`\n{3,}`)

	// Subject prefixes that carry no content.
	subjectPrefixRe = regexp.MustCompile(`(?i)^((fwd?|re|fw):\s*|\[[^\]]+\]\s*)+`)

	// Common newsletter footer boilerplate, removed line-wise.
	footerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^.*(unsubscribe|update preferences|manage preferences).*$`),
		regexp.MustCompile(`(?im)^.*(sent to|you received this).*$`),
		regexp.MustCompile(`(?im)^.*(view in browser|view online).*$`),
		regexp.MustCompile(`(?im)^©\s*\d{4}.*$`),
		regexp.MustCompile(`(?im)^.*all rights reserved.*$`),
	}
)

// Normalizer extracts clean, structure-preserving plain text from raw
// message bodies. Identical input always yields identical output; chunk
// identity depends on that.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize converts a raw message into a normalized Document.
// Returns domain.ErrExtraction when no usable text can be produced.
func (n *Normalizer) Normalize(msg *domain.RawMessage) (Document, error) {
	text, err := n.extract(msg)
	if err != nil {
		return Document{}, err
	}

	cleaned := cleanText(text)
	if len(cleaned) < MinContentLength {
		return Document{}, fmt.Errorf(
			"cleaned text too short (%d chars) for source %s: %w",
			len(cleaned), msg.SourceID, domain.ErrExtraction,
		)
	}

	return Document{
		Title:     titleFromSubject(msg.Subject),
		Text:      cleaned,
		WordCount: len(strings.Fields(cleaned)),
	}, nil
}

// extract prefers the HTML body and falls back to the plain-text alternative.
func (n *Normalizer) extract(msg *domain.RawMessage) (string, error) {
	if msg.RawBody != "" {
		text, err := html2text.FromString(msg.RawBody, html2text.Options{
			OmitLinks: true,
			TextOnly:  true,
		})
		if err == nil && len(text) >= MinContentLength {
			return text, nil
		}
		if msg.PlainBody == "" {
			if err != nil {
				return "", fmt.Errorf("parse html body for source %s: %w: %w", msg.SourceID, domain.ErrExtraction, err)
			}
			return "", fmt.Errorf("html body yielded no text for source %s: %w", msg.SourceID, domain.ErrExtraction)
		}
	}
	if msg.PlainBody != "" {
		return msg.PlainBody, nil
	}
	return "", fmt.Errorf("empty body for source %s: %w", msg.SourceID, domain.ErrExtraction)
}

// cleanText normalizes whitespace, drops separator lines, and strips
// footer boilerplate while preserving paragraph breaks.
func cleanText(text string) string {
	for _, re := range footerRes {
		text = re.ReplaceAllString(text, "")
	}

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	blank := true // swallow leading blanks
	for _, line := range lines {
		line = strings.TrimSpace(whitespaceRe.ReplaceAllString(line, " "))
		if line == "" {
			if !blank {
				cleaned = append(cleaned, "")
			}
			blank = true
			continue
		}
		if separatorRe.MatchString(line) {
			continue
		}
		cleaned = append(cleaned, line)
		blank = false
	}

	out := strings.Join(cleaned, "\n")
	out = blankRunsRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// titleFromSubject derives a display title from the subject line.
func titleFromSubject(subject string) string {
	title := strings.TrimSpace(subjectPrefixRe.ReplaceAllString(subject, ""))
	if title == "" {
		return "Untitled Newsletter"
	}
	return title
}
