package analyzer

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// ErrNotSitemap is returned when a document parses but is neither a urlset
// nor a sitemap index.
var ErrNotSitemap = errors.New("document is not a sitemap")

// EntryKind tells page entries apart from sitemap-index children.
type EntryKind int

const (
	EntryPage EntryKind = iota
	EntryChild
)

// SitemapEntry is one <url> or <sitemap> element. Loc is empty when the
// element carries no <loc>.
type SitemapEntry struct {
	Kind EntryKind
	Loc  string
}

// SitemapReader pulls entries from a sitemap document one at a time without
// buffering the document. It reads XML urlsets, sitemap indexes and plain
// text sitemaps (one URL per line). A reader cannot be rewound; reopen the
// document to start over.
type SitemapReader struct {
	dec  *xml.Decoder
	text *bufio.Scanner

	rootSeen bool
	// IsIndex is set once the root element is known to be <sitemapindex>.
	IsIndex bool
}

// NewSitemapReader reads r as XML unless mimeType is text/plain.
func NewSitemapReader(r io.Reader, mimeType string) *SitemapReader {
	if mimeType == "text/plain" {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		return &SitemapReader{text: sc}
	}
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	return &SitemapReader{dec: dec}
}

// Next returns the next entry, or io.EOF after the last one. Any other error
// means the document is malformed and counts taken so far are unreliable.
func (sr *SitemapReader) Next() (SitemapEntry, error) {
	if sr.text != nil {
		return sr.nextText()
	}
	return sr.nextXML()
}

func (sr *SitemapReader) nextText() (SitemapEntry, error) {
	for sr.text.Scan() {
		line := strings.TrimSpace(sr.text.Text())
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return SitemapEntry{Kind: EntryPage, Loc: line}, nil
		}
	}
	if err := sr.text.Err(); err != nil {
		return SitemapEntry{}, err
	}
	return SitemapEntry{}, io.EOF
}

func (sr *SitemapReader) nextXML() (SitemapEntry, error) {
	var (
		entry   *SitemapEntry
		inLoc   bool
		locText strings.Builder
	)
	for {
		tok, err := sr.dec.Token()
		if err == io.EOF {
			if !sr.rootSeen {
				return SitemapEntry{}, ErrNotSitemap
			}
			if entry != nil {
				return SitemapEntry{}, io.ErrUnexpectedEOF
			}
			return SitemapEntry{}, io.EOF
		}
		if err != nil {
			return SitemapEntry{}, fmt.Errorf("parse sitemap: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(el.Name.Local)
			if !sr.rootSeen {
				switch name {
				case "urlset":
				case "sitemapindex":
					sr.IsIndex = true
				default:
					return SitemapEntry{}, fmt.Errorf("root element <%s>: %w", el.Name.Local, ErrNotSitemap)
				}
				sr.rootSeen = true
				continue
			}
			switch {
			case entry == nil && name == "url" && !sr.IsIndex:
				entry = &SitemapEntry{Kind: EntryPage}
			case entry == nil && name == "sitemap" && sr.IsIndex:
				entry = &SitemapEntry{Kind: EntryChild}
			case entry != nil && name == "loc":
				inLoc = true
				locText.Reset()
			}
		case xml.CharData:
			if inLoc {
				locText.Write(el)
			}
		case xml.EndElement:
			name := strings.ToLower(el.Name.Local)
			switch {
			case inLoc && name == "loc":
				inLoc = false
				if entry.Loc == "" {
					entry.Loc = strings.TrimSpace(locText.String())
				}
			case entry != nil && (name == "url" || name == "sitemap"):
				return *entry, nil
			}
		}
	}
}
