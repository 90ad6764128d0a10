package results

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/danielnaab/site-scanning-engine/internal/model"
)

// Drift is the difference between the two latest solution documents of a
// website. Changed is false when fewer than two results exist or the
// documents match.
type Drift struct {
	WebsiteID int64   `json:"websiteId"`
	BaseID    string  `json:"baseId,omitempty"`
	HeadID    string  `json:"headId,omitempty"`
	Changed   bool    `json:"changed"`
	Chunks    []Chunk `json:"chunks"`
}

// Chunk is one run of added or removed lines.
type Chunk struct {
	Type    string `json:"type"` // "added" or "removed"
	Content string `json:"content"`
}

// Drift compares the two most recent results for websiteID.
func (s *Store) Drift(ctx context.Context, websiteID int64) (*Drift, error) {
	list, err := s.History(ctx, websiteID, 2)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrResultNotFound
	}
	d := &Drift{WebsiteID: websiteID, HeadID: list[0].Request.ScanID, Chunks: []Chunk{}}
	if len(list) < 2 {
		return d, nil
	}
	d.BaseID = list[1].Request.ScanID

	chunks, err := DiffSolutions(list[1].Solutions, list[0].Solutions)
	if err != nil {
		return nil, err
	}
	d.Chunks = chunks
	d.Changed = len(chunks) > 0
	return d, nil
}

// DiffSolutions returns a line diff of two solution documents, ignoring the
// identifiers and the fields expected to change between runs.
func DiffSolutions(base, head model.SolutionsResult) ([]Chunk, error) {
	a, err := stableDocument(base)
	if err != nil {
		return nil, err
	}
	b, err := stableDocument(head)
	if err != nil {
		return nil, err
	}

	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	chunks := make([]Chunk, 0)
	for _, diff := range diffs {
		var typ string
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			typ = "added"
		case diffmatchpatch.DiffDelete:
			typ = "removed"
		default:
			continue
		}
		if strings.TrimSpace(diff.Text) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Type: typ, Content: diff.Text})
	}
	return chunks, nil
}

// stableDocument renders s as indented JSON with one field per line. Keys
// come out sorted because the document goes through a map.
func stableDocument(s model.SolutionsResult) (string, error) {
	s.WebsiteID = 0
	s.ScanID = ""
	s.ThirdPartyServiceDomains = model.NotEvaluated[string]()
	s.ThirdPartyServiceCount = model.NotEvaluated[int]()
	s.SitemapXMLFinalURLFilesize = model.NotEvaluated[int64]()
	s.SitemapXMLCount = model.NotEvaluated[int]()

	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode solutions: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode solutions: %w", err)
	}
	delete(doc, "websiteId")
	delete(doc, "scanId")

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode solutions: %w", err)
	}
	return string(out) + "\n", nil
}
