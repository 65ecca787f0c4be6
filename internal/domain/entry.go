package domain

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Entry is the internal wire form of an item payload: one <entry> element
// with optional children. Consumers must tolerate missing children, so every
// field is optional and extraction helpers never fail.
type Entry struct {
	XMLName   xml.Name    `xml:"entry"`
	ID        string      `xml:"id,omitempty"`
	Title     string      `xml:"title,omitempty"`
	Link      string      `xml:"link,omitempty"`
	Summary   string      `xml:"summary,omitempty"`
	Published string      `xml:"published,omitempty"`
	Updated   string      `xml:"updated,omitempty"`
	Author    string      `xml:"author,omitempty"`
	Links     []EntryLink `xml:"links>link,omitempty"`
	Content   string      `xml:"content,omitempty"`
}

// EntryLink mirrors one feed link with its attributes.
type EntryLink struct {
	Href string `xml:"href,attr,omitempty"`
	Rel  string `xml:"rel,attr,omitempty"`
	Type string `xml:"type,attr,omitempty"`
}

// EncodeEntry renders the entry as its canonical payload string.
func EncodeEntry(e Entry) (string, error) {
	b, err := xml.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("op=entry.encode: %w", err)
	}
	return string(b), nil
}

// DecodeEntry parses a payload back into an Entry. Unknown children are
// ignored; an empty payload yields a zero Entry without error.
func DecodeEntry(payload string) (Entry, error) {
	var e Entry
	if strings.TrimSpace(payload) == "" {
		return e, nil
	}
	if err := xml.Unmarshal([]byte(payload), &e); err != nil {
		return Entry{}, fmt.Errorf("op=entry.decode: %w", err)
	}
	return e, nil
}

// BestLink returns the entry's link child, or the first href from the links
// container when the link child is absent. Empty string means no link at all.
func (e Entry) BestLink() string {
	if e.Link != "" {
		return e.Link
	}
	for _, l := range e.Links {
		if l.Href != "" {
			return l.Href
		}
	}
	return ""
}
