package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Section is one headed block of contract content.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// DocumentSnapshot is an immutable rendering of a contract's content.
// Editing a draft replaces the snapshot wholesale; sections are never patched in place.
type DocumentSnapshot struct {
	Sections  []Section `json:"sections"`
	Text      string    `json:"text"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDocumentSnapshot builds the flattened text and content hash for sections.
func NewDocumentSnapshot(sections []Section) DocumentSnapshot {
	cleaned := make([]Section, 0, len(sections))
	for _, s := range sections {
		heading := strings.TrimSpace(s.Heading)
		body := strings.TrimSpace(s.Body)
		if heading == "" && body == "" {
			continue
		}
		cleaned = append(cleaned, Section{Heading: heading, Body: body})
	}

	var b strings.Builder
	for i, s := range cleaned {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if s.Heading != "" {
			b.WriteString(strings.ToUpper(s.Heading))
			if s.Body != "" {
				b.WriteString("\n")
			}
		}
		b.WriteString(s.Body)
	}
	text := b.String()

	sum := sha256.Sum256([]byte(text))
	return DocumentSnapshot{
		Sections:  cleaned,
		Text:      text,
		Hash:      hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}
}

func (d DocumentSnapshot) Render() string {
	return d.Text
}

// SectionList returns a copy of the ordered sections.
func (d DocumentSnapshot) SectionList() []Section {
	out := make([]Section, len(d.Sections))
	copy(out, d.Sections)
	return out
}

func (d DocumentSnapshot) IsEmpty() bool {
	return strings.TrimSpace(d.Text) == ""
}
