// Package ingest loads the federal website list into the registry.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/registry"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

const DefaultSourceURL = "https://raw.githubusercontent.com/GSA/federal-website-index/main/data/site-scanning-target-url-list.csv"

// Columns are the names given to the CSV columns, in order. The file's own
// header row is discarded.
var Columns = []string{
	"targetUrl",
	"baseDomain",
	"url",
	"branch",
	"agency",
	"agencyCode",
	"bureau",
	"bureauCode",
	"sourceListFederalDomains",
	"sourceListDap",
	"sourceListPulse",
}

type Config struct {
	// SourceURL is downloaded when no local file is given.
	SourceURL string `mapstructure:"source_url" yaml:"source_url"`
	// Limit stops after this many rows. Zero means no limit.
	Limit int `mapstructure:"limit" yaml:"limit"`
	// Timeout bounds the download.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{SourceURL: DefaultSourceURL, Timeout: 2 * time.Minute}
}

// Options override Config for a single run.
type Options struct {
	File  string
	Limit int
}

// Summary reports what a run did.
type Summary struct {
	Rows    int   `json:"rows"`
	Saved   int   `json:"saved"`
	Skipped int   `json:"skipped"`
	Deleted int64 `json:"deleted"`
}

type Ingester struct {
	fetch  webclient.WebClient
	reg    *registry.Registry
	cfg    Config
	logger logging.Logger
}

// New returns an Ingester. fetch may be nil when only local files are read.
func New(fetch webclient.WebClient, reg *registry.Registry, cfg Config, logger logging.Logger) (*Ingester, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.SourceURL == "" {
		cfg.SourceURL = DefaultSourceURL
	}
	return &Ingester{fetch: fetch, reg: reg, cfg: cfg, logger: logger.With(logging.Component("ingest"))}, nil
}

// Run reads the list from opts.File, or downloads it, and upserts every
// valid row. After a full run, websites last updated before the newest row
// that existed beforehand are deleted.
func (i *Ingester) Run(ctx context.Context, opts Options) (Summary, error) {
	limit := i.cfg.Limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	cutoff, haveCutoff := time.Time{}, false
	newest, err := i.reg.Newest(ctx)
	switch {
	case err == nil:
		cutoff, haveCutoff = newest.UpdatedAt, true
	case !errors.Is(err, registry.ErrWebsiteNotFound):
		return Summary{}, err
	}

	src, name, err := i.open(ctx, opts.File)
	if err != nil {
		return Summary{}, err
	}
	defer src.Close()

	i.logger.Info("ingest started", logging.Field{Key: "source", Value: name}, logging.Field{Key: "limit", Value: limit})
	sum, err := i.Load(ctx, src, limit)
	if err != nil {
		return sum, err
	}

	// A partial run leaves the rest of the registry alone.
	if haveCutoff && limit == 0 && sum.Saved > 0 {
		n, err := i.reg.DeleteBefore(ctx, cutoff)
		if err != nil {
			return sum, err
		}
		sum.Deleted = n
	}

	i.logger.Info("ingest finished",
		logging.Field{Key: "rows", Value: sum.Rows},
		logging.Field{Key: "saved", Value: sum.Saved},
		logging.Field{Key: "skipped", Value: sum.Skipped},
		logging.Field{Key: "deleted", Value: sum.Deleted})
	return sum, nil
}

func (i *Ingester) open(ctx context.Context, file string) (io.ReadCloser, string, error) {
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, "", fmt.Errorf("open website list: %w", err)
		}
		return f, file, nil
	}
	if i.fetch == nil {
		return nil, "", fmt.Errorf("no file given and no web client configured")
	}

	resp, err := i.fetch.Open(ctx, &webclient.Request{URL: i.cfg.SourceURL, Timeout: i.cfg.Timeout})
	if err != nil {
		return nil, "", fmt.Errorf("download website list: %w", err)
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("download website list: status %d", resp.StatusCode)
	}
	return resp.Body, i.cfg.SourceURL, nil
}

// Load upserts the rows read from r. Rows that fail to parse or save are
// logged and skipped.
func (i *Ingester) Load(ctx context.Context, r io.Reader, limit int) (Summary, error) {
	var sum Summary

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		return sum, fmt.Errorf("read header: %w", err)
	}

	for limit <= 0 || sum.Rows < limit {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		sum.Rows++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				i.logger.Warn("skipping malformed row", logging.Err(err))
				sum.Skipped++
				continue
			}
			return sum, fmt.Errorf("read website list: %w", err)
		}

		w, err := ParseRecord(record)
		if err != nil {
			i.logger.Warn("skipping row", logging.Field{Key: "row", Value: sum.Rows}, logging.Err(err))
			sum.Skipped++
			continue
		}
		if err := i.reg.Upsert(ctx, w); err != nil {
			i.logger.Warn("failed to save website", logging.Field{Key: "website", Value: w.Website}, logging.Err(err))
			sum.Skipped++
			continue
		}
		sum.Saved++
	}
	return sum, nil
}

// ParseRecord maps one CSV record onto a Website.
func ParseRecord(record []string) (*registry.Website, error) {
	if len(record) < len(Columns) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(Columns), len(record))
	}
	get := func(n int) string { return strings.TrimSpace(record[n]) }

	w := &registry.Website{
		Website:                  strings.ToLower(get(0)),
		BaseDomain:               get(1),
		URL:                      get(2),
		Branch:                   get(3),
		Agency:                   get(4),
		Bureau:                   get(6),
		SourceListFederalDomains: parseFlag(get(8)),
		SourceListDAP:            parseFlag(get(9)),
		SourceListPulse:          parseFlag(get(10)),
	}
	if w.Website == "" {
		return nil, fmt.Errorf("%s is empty", Columns[0])
	}

	var err error
	if w.AgencyCode, err = parseCode(get(5)); err != nil {
		return nil, fmt.Errorf("%s: %w", Columns[5], err)
	}
	if w.BureauCode, err = parseCode(get(7)); err != nil {
		return nil, fmt.Errorf("%s: %w", Columns[7], err)
	}
	return w, nil
}

func parseCode(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseFlag(s string) bool {
	return strings.EqualFold(s, "true")
}
