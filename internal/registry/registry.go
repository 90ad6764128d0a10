// Package registry stores the websites to scan, as loaded by ingest.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielnaab/site-scanning-engine/internal/database"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

var ErrWebsiteNotFound = errors.New("website not found")

// Website is one scan target and its provenance.
type Website struct {
	ID int64 `json:"id"`

	// Website is the lowercased target URL as ingested, e.g. "18f.gov".
	Website    string `json:"website"`
	BaseDomain string `json:"baseDomain"`
	URL        string `json:"url"`
	Branch     string `json:"branch"`
	Agency     string `json:"agency"`
	AgencyCode *int   `json:"agencyCode"`
	Bureau     string `json:"bureau"`
	BureauCode *int   `json:"bureauCode"`

	SourceListFederalDomains bool `json:"sourceListFederalDomains"`
	SourceListDAP            bool `json:"sourceListDap"`
	SourceListPulse          bool `json:"sourceListPulse"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Registry struct {
	db     *database.DB
	logger logging.Logger
}

// NewRegistry returns a Registry over a migrated database.
func NewRegistry(db *database.DB, logger logging.Logger) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{db: db, logger: logger.With(logging.Component("registry"))}, nil
}

const websiteColumns = `id, website, base_domain, url, branch, agency, agency_code, bureau, bureau_code,
	source_list_federal_domains, source_list_dap, source_list_pulse, created_at, updated_at`

// Upsert inserts w or updates the row with the same website. The target is
// lowercased first. w is refreshed from the stored row.
func (r *Registry) Upsert(ctx context.Context, w *Website) error {
	w.Website = strings.ToLower(strings.TrimSpace(w.Website))
	if w.Website == "" {
		return fmt.Errorf("website is required")
	}
	now := time.Now().UTC()

	q := r.db.Rebind(`
		INSERT INTO websites (website, base_domain, url, branch, agency, agency_code, bureau, bureau_code,
			source_list_federal_domains, source_list_dap, source_list_pulse, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (website) DO UPDATE SET
			base_domain = excluded.base_domain,
			url = excluded.url,
			branch = excluded.branch,
			agency = excluded.agency,
			agency_code = excluded.agency_code,
			bureau = excluded.bureau,
			bureau_code = excluded.bureau_code,
			source_list_federal_domains = excluded.source_list_federal_domains,
			source_list_dap = excluded.source_list_dap,
			source_list_pulse = excluded.source_list_pulse,
			updated_at = excluded.updated_at
		RETURNING id`)

	var id int64
	err := r.db.QueryRowContext(ctx, q,
		w.Website, w.BaseDomain, w.URL, w.Branch, w.Agency, nullInt(w.AgencyCode), w.Bureau, nullInt(w.BureauCode),
		w.SourceListFederalDomains, w.SourceListDAP, w.SourceListPulse, now, now,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert website %s: %w", w.Website, err)
	}

	stored, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	*w = *stored
	return nil
}

func (r *Registry) Get(ctx context.Context, id int64) (*Website, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+websiteColumns+` FROM websites WHERE id = ?`), id)
	w, err := scanWebsite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWebsiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get website %d: %w", id, err)
	}
	return w, nil
}

// GetByTarget looks a website up by its target, case-insensitively.
func (r *Registry) GetByTarget(ctx context.Context, target string) (*Website, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+websiteColumns+` FROM websites WHERE website = ?`), target)
	w, err := scanWebsite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWebsiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get website %q: %w", target, err)
	}
	return w, nil
}

// List returns websites ordered by id. limit <= 0 means no limit.
func (r *Registry) List(ctx context.Context, limit, offset int) ([]*Website, error) {
	if limit <= 0 {
		limit = -1
		if r.db.Driver == database.DriverPostgres {
			limit = 1 << 62
		}
	}
	rows, err := r.db.QueryContext(ctx,
		r.db.Rebind(`SELECT `+websiteColumns+` FROM websites ORDER BY id LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list websites: %w", err)
	}
	defer rows.Close()

	var out []*Website
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan website: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Newest returns the most recently updated website.
func (r *Registry) Newest(ctx context.Context) (*Website, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+websiteColumns+` FROM websites ORDER BY updated_at DESC, id DESC LIMIT 1`)
	w, err := scanWebsite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWebsiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("newest website: %w", err)
	}
	return w, nil
}

// DeleteBefore removes websites last updated before t and returns how many
// were removed.
func (r *Registry) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM websites WHERE updated_at < ?`), t.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete stale websites: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("deleted stale websites",
			logging.Field{Key: "count", Value: n},
			logging.Field{Key: "before", Value: t.UTC().Format(time.RFC3339)})
	}
	return n, nil
}

func (r *Registry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM websites`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count websites: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebsite(row rowScanner) (*Website, error) {
	var (
		w                      Website
		agencyCode, bureauCode sql.NullInt64
	)
	err := row.Scan(&w.ID, &w.Website, &w.BaseDomain, &w.URL, &w.Branch, &w.Agency, &agencyCode,
		&w.Bureau, &bureauCode, &w.SourceListFederalDomains, &w.SourceListDAP, &w.SourceListPulse,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.AgencyCode = intPtr(agencyCode)
	w.BureauCode = intPtr(bureauCode)
	return &w, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
