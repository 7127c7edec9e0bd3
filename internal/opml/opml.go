// Package opml converts between OPML feed lists and monitored sources.
package opml

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"horse.fit/sentinel/internal/store"
)

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text     string    `xml:"text,attr,omitempty"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Category string    `xml:"category,attr,omitempty"`
	Children []outline `xml:"outline"`
}

// Parse extracts sources from an OPML document. Folder outlines become the
// category of the feeds nested under them; outlines without an xmlUrl and
// without children are skipped.
func Parse(raw []byte) ([]store.Source, error) {
	var doc document
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse opml: %w", err)
	}

	var sources []store.Source
	seen := map[string]struct{}{}
	for _, o := range doc.Body.Outlines {
		collect(o, "", seen, &sources)
	}
	return sources, nil
}

func collect(o outline, category string, seen map[string]struct{}, out *[]store.Source) {
	if o.XMLURL != "" {
		id := sourceID(o)
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			cat := o.Category
			if cat == "" {
				cat = category
			}
			src := store.Source{
				ID:              id,
				Name:            outlineName(o),
				Type:            "rss",
				URL:             o.XMLURL,
				Enabled:         true,
				IntervalMinutes: 60,
				Priority:        2,
				Category:        strings.ToLower(cat),
			}
			*out = append(*out, src)
		}
	}

	childCategory := category
	if o.XMLURL == "" && outlineName(o) != "" {
		childCategory = outlineName(o)
	}
	for _, child := range o.Children {
		collect(child, childCategory, seen, out)
	}
}

// Render builds an OPML document from the given sources. Only sources with
// a feed URL are included, grouped flat with their category as an attribute.
func Render(title string, sources []store.Source, generatedAt time.Time) ([]byte, error) {
	doc := document{
		Version: "2.0",
		Head: head{
			Title:       title,
			DateCreated: generatedAt.UTC().Format(time.RFC1123Z),
		},
	}

	for _, src := range sources {
		if src.URL == "" {
			continue
		}
		doc.Body.Outlines = append(doc.Body.Outlines, outline{
			Text:     src.Name,
			Title:    src.Name,
			Type:     "rss",
			XMLURL:   src.URL,
			Category: src.Category,
		})
	}

	raw, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render opml: %w", err)
	}
	return append([]byte(xml.Header), append(raw, '\n')...), nil
}

func outlineName(o outline) string {
	if o.Title != "" {
		return o.Title
	}
	return o.Text
}

// sourceID derives a stable id from the outline name, falling back to the
// feed host when the name is empty.
func sourceID(o outline) string {
	name := strings.ToLower(strings.TrimSpace(outlineName(o)))
	if name == "" {
		name = strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(o.XMLURL, "https://"), "http://"))
	}
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
