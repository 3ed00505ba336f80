// Package opml handles importing and exporting OPML files.
package opml

import (
	"context"
	"encoding/xml"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/bryan-buckman/gleaner/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry represents a flattened feed with its folder path.
type FeedEntry struct {
	FolderPath []string // e.g., ["Tech", "Google"]
	Title      string
	URL        string
}

// Parse reads an OPML document and returns a flat list of FeedEntry.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode opml")
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					FolderPath: append([]string{}, path...),
					Title:      title,
					URL:        o.XMLURL,
				})
			} else if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path[:len(path):len(path)], name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export renders the subscription tree as an OPML 2.0 document, folders
// nested as they are stored.
func Export(title string, subs *model.Subscriptions, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}
	doc.Body.Outlines = append(folderOutlines(subs.Folders), feedOutlines(subs.Unfiled)...)

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode opml")
	}
	return append([]byte(xml.Header), output...), nil
}

func folderOutlines(folders []model.FolderWithFeeds) []Outline {
	var out []Outline
	for _, f := range folders {
		out = append(out, Outline{
			Text:     f.Name,
			Title:    f.Name,
			Outlines: append(folderOutlines(f.Folders), feedOutlines(f.Feeds)...),
		})
	}
	return out
}

func feedOutlines(feeds []model.Feed) []Outline {
	var out []Outline
	for _, f := range feeds {
		out = append(out, Outline{
			Text:   f.Title,
			Title:  f.Title,
			Type:   "rss",
			XMLURL: f.URL,
		})
	}
	return out
}

// Store is the part of the database import needs.
type Store interface {
	GetOrCreateFolder(ctx context.Context, name string, parentID *int64) (int64, error)
	GetOrCreateFeed(ctx context.Context, folderID *int64, title, url string) (int64, bool, error)
}

// ImportResult counts what an import created.
type ImportResult struct {
	Feeds   int `json:"feeds"`
	Created int `json:"created"`
}

// Import creates the folders and feeds of entries. Feeds already subscribed
// keep their current folder.
func Import(ctx context.Context, store Store, entries []FeedEntry) (ImportResult, error) {
	var res ImportResult
	for _, e := range entries {
		var parent *int64
		for _, name := range e.FolderPath {
			id, err := store.GetOrCreateFolder(ctx, name, parent)
			if err != nil {
				return res, errors.Wrapf(err, "import folder %q", name)
			}
			parent = &id
		}
		title := e.Title
		if title == "" {
			title = e.URL
		}
		_, created, err := store.GetOrCreateFeed(ctx, parent, title, e.URL)
		if err != nil {
			return res, errors.Wrapf(err, "import feed %q", e.URL)
		}
		res.Feeds++
		if created {
			res.Created++
		}
	}
	return res, nil
}
