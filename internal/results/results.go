// Package results persists scan results and compares successive runs.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielnaab/site-scanning-engine/internal/database"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
)

var ErrResultNotFound = errors.New("scan result not found")

// Store reads and writes scan_results rows. Core and solutions results are
// kept as their JSON documents, so the three field states survive a round
// trip.
type Store struct {
	db     *database.DB
	logger logging.Logger
}

func NewStore(db *database.DB, logger logging.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{db: db, logger: logger.With(logging.Component("results"))}, nil
}

// Save writes res, replacing any earlier result with the same scan id.
func (s *Store) Save(ctx context.Context, res *model.ScanResult) error {
	if res == nil {
		return fmt.Errorf("result is nil")
	}
	if res.Request.ScanID == "" {
		return fmt.Errorf("result has no scan id")
	}

	core, err := json.Marshal(res.Core)
	if err != nil {
		return fmt.Errorf("encode core result: %w", err)
	}
	solutions, err := json.Marshal(res.Solutions)
	if err != nil {
		return fmt.Errorf("encode solutions result: %w", err)
	}
	degraded := res.Degraded
	if degraded == nil {
		degraded = []string{}
	}
	deg, err := json.Marshal(degraded)
	if err != nil {
		return fmt.Errorf("encode degraded groups: %w", err)
	}

	q := s.db.Rebind(`
		INSERT INTO scan_results (scan_id, website_id, target_url, status, core_result, solutions_result,
			degraded, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scan_id) DO UPDATE SET
			website_id = excluded.website_id,
			target_url = excluded.target_url,
			status = excluded.status,
			core_result = excluded.core_result,
			solutions_result = excluded.solutions_result,
			degraded = excluded.degraded,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`)

	_, err = s.db.ExecContext(ctx, q,
		res.Request.ScanID, res.Request.WebsiteID, res.Request.TargetURL, string(res.Status()),
		string(core), string(solutions), string(deg), res.StartedAt.UTC(), res.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("save result %s: %w", res.Request.ScanID, err)
	}
	s.logger.Debug("saved scan result",
		logging.Field{Key: "scan_id", Value: res.Request.ScanID},
		logging.Field{Key: "website_id", Value: res.Request.WebsiteID},
		logging.Field{Key: "status", Value: string(res.Status())})
	return nil
}

const resultColumns = `scan_id, website_id, target_url, core_result, solutions_result, degraded, started_at, finished_at`

func (s *Store) Get(ctx context.Context, scanID string) (*model.ScanResult, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+resultColumns+` FROM scan_results WHERE scan_id = ?`), scanID)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", scanID, err)
	}
	return res, nil
}

// Latest returns the most recently finished result for a website.
func (s *Store) Latest(ctx context.Context, websiteID int64) (*model.ScanResult, error) {
	list, err := s.History(ctx, websiteID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrResultNotFound
	}
	return list[0], nil
}

// History returns results for a website, newest first. limit <= 0 returns
// all of them.
func (s *Store) History(ctx context.Context, websiteID int64, limit int) ([]*model.ScanResult, error) {
	q := `SELECT ` + resultColumns + ` FROM scan_results WHERE website_id = ? ORDER BY finished_at DESC, scan_id DESC`
	args := []any{websiteID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list results for website %d: %w", websiteID, err)
	}
	defer rows.Close()

	var out []*model.ScanResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// DeleteBefore removes results that finished before t.
func (s *Store) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM scan_results WHERE finished_at < ?`), t.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old results: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*model.ScanResult, error) {
	var (
		res                       model.ScanResult
		core, solutions, degraded []byte
	)
	err := row.Scan(&res.Request.ScanID, &res.Request.WebsiteID, &res.Request.TargetURL,
		&core, &solutions, &degraded, &res.StartedAt, &res.FinishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(core, &res.Core); err != nil {
		return nil, fmt.Errorf("decode core result: %w", err)
	}
	if err := json.Unmarshal(solutions, &res.Solutions); err != nil {
		return nil, fmt.Errorf("decode solutions result: %w", err)
	}
	if err := json.Unmarshal(degraded, &res.Degraded); err != nil {
		return nil, fmt.Errorf("decode degraded groups: %w", err)
	}
	if len(res.Degraded) == 0 {
		res.Degraded = nil
	}
	return &res, nil
}
