package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// Outcome is what ApplyBatch did with one record.
type Outcome string

// Batch outcomes.
const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeStale    Outcome = "stale"
)

// RecordResult is the outcome of one record of a batch. Stale holds the
// rejection for OutcomeStale.
type RecordResult struct {
	ID       string
	Outcome  Outcome
	StoredAt time.Time
	Stale    *types.StaleWriteError
}

// BatchResult summarizes ApplyBatch.
type BatchResult struct {
	Records  []RecordResult
	Inserted int
	Updated  int
	Stale    int
}

// Applied returns the number of records written.
func (r BatchResult) Applied() int { return r.Inserted + r.Updated }

// Freshness is the timing metadata of one record.
type Freshness struct {
	Source    string
	UpdatedAt time.Time
	StoredAt  time.Time
}

// Upsert writes one record. It returns a *types.StaleWriteError when the
// stored record is at least as new as rec.
func (s *Store) Upsert(ctx context.Context, rec *types.DiscRecord) error {
	res, err := s.ApplyBatch(ctx, []*types.DiscRecord{rec})
	if err != nil {
		return err
	}
	if st := res.Records[0].Stale; st != nil {
		return st
	}
	return nil
}

// ApplyBatch writes records in one transaction: readers observe all of the
// accepted records or none. A record whose stored Provenance.UpdatedAt is
// not older than the incoming one is rejected as stale; the rest of the
// batch still applies. Replacing an existing record appends its prior
// provenance and signature to the history.
func (s *Store) ApplyBatch(ctx context.Context, recs []*types.DiscRecord) (BatchResult, error) {
	var res BatchResult
	for _, rec := range recs {
		if err := validateRecord(rec); err != nil {
			return res, err
		}
	}
	if len(recs) == 0 {
		return res, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return res, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	clock := s.lastStored

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return res, s.fail("begin batch", err)
	}
	defer tx.Rollback()

	res.Records = make([]RecordResult, 0, len(recs))
	for _, rec := range recs {
		rr, err := s.applyOne(ctx, tx, rec)
		if err != nil {
			s.lastStored = clock
			return BatchResult{}, s.fail("apply "+rec.ID, err)
		}
		switch rr.Outcome {
		case OutcomeInserted:
			res.Inserted++
		case OutcomeUpdated:
			res.Updated++
		case OutcomeStale:
			res.Stale++
			s.logger.Info("stale write rejected",
				zap.String("disc_id", rec.ID),
				zap.Time("stored", rr.Stale.Stored),
				zap.Time("incoming", rr.Stale.Incoming))
		}
		res.Records = append(res.Records, rr)
	}

	if err := tx.Commit(); err != nil {
		s.lastStored = clock
		return BatchResult{}, s.fail("commit batch", err)
	}
	s.recovered()
	return res, nil
}

func (s *Store) applyOne(ctx context.Context, tx *sql.Tx, rec *types.DiscRecord) (RecordResult, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+discColumns+` FROM discs WHERE disc_id = ?`, rec.ID)
	stored, err := scanDisc(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return RecordResult{}, err
	}

	plastics, physical, err := encodeDetails(rec)
	if err != nil {
		return RecordResult{}, err
	}

	if stored == nil {
		storedAt := s.tick()
		_, err := tx.ExecContext(ctx, `INSERT INTO discs (`+discColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Brand, rec.Mold, rec.Provenance.Source, rec.Provenance.SchemaVersion,
			rec.Signature.Speed, rec.Signature.Glide, rec.Signature.Turn, rec.Signature.Fade,
			nullFloat(rec.Signature.Stability),
			plastics, physical, rec.Weblink, toNanos(rec.Provenance.UpdatedAt), storedAt)
		if err != nil {
			return RecordResult{}, err
		}
		return RecordResult{ID: rec.ID, Outcome: OutcomeInserted, StoredAt: fromNanos(storedAt)}, nil
	}

	if !rec.Provenance.UpdatedAt.After(stored.Provenance.UpdatedAt) {
		return RecordResult{
			ID:      rec.ID,
			Outcome: OutcomeStale,
			Stale: &types.StaleWriteError{
				ID:       rec.ID,
				Stored:   stored.Provenance.UpdatedAt,
				Incoming: rec.Provenance.UpdatedAt,
			},
		}, nil
	}

	storedAt := s.tick()
	_, err = tx.ExecContext(ctx, `INSERT INTO provenance_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newID(), stored.ID, stored.Provenance.Source, stored.Provenance.SchemaVersion,
		toNanos(stored.Provenance.UpdatedAt),
		stored.Signature.Speed, stored.Signature.Glide, stored.Signature.Turn, stored.Signature.Fade,
		nullFloat(stored.Signature.Stability), storedAt)
	if err != nil {
		return RecordResult{}, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE discs SET
		brand = ?, mold = ?, source = ?, schema_version = ?,
		speed = ?, glide = ?, turn = ?, fade = ?, stability = ?,
		plastics = ?, physical = ?, weblink = ?, updated_at = ?, stored_at = ?
		WHERE disc_id = ?`,
		rec.Brand, rec.Mold, rec.Provenance.Source, rec.Provenance.SchemaVersion,
		rec.Signature.Speed, rec.Signature.Glide, rec.Signature.Turn, rec.Signature.Fade,
		nullFloat(rec.Signature.Stability),
		plastics, physical, rec.Weblink, toNanos(rec.Provenance.UpdatedAt), storedAt,
		rec.ID)
	if err != nil {
		return RecordResult{}, err
	}
	return RecordResult{ID: rec.ID, Outcome: OutcomeUpdated, StoredAt: fromNanos(storedAt)}, nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*types.DiscRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rec, err := scanDisc(db.QueryRowContext(ctx, `SELECT `+discColumns+` FROM discs WHERE disc_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("disc %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, s.fail("get disc", err)
	}
	return rec, nil
}

// ListSince returns records stored at or after since, ordered by StoredAt
// then id. A zero since lists the whole catalog.
func (s *Store) ListSince(ctx context.Context, since time.Time) ([]*types.DiscRecord, error) {
	return s.queryDiscs(ctx, "list discs",
		`SELECT `+discColumns+` FROM discs WHERE stored_at >= ? ORDER BY stored_at, disc_id`,
		toNanos(since))
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM discs`).Scan(&n); err != nil {
		return 0, s.fail("count discs", err)
	}
	return n, nil
}

// LastUpdated returns the freshness metadata of one record.
func (s *Store) LastUpdated(ctx context.Context, id string) (Freshness, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return Freshness{}, err
	}

	var f Freshness
	var updated, stored int64
	err = db.QueryRowContext(ctx,
		`SELECT source, updated_at, stored_at FROM discs WHERE disc_id = ?`, id).
		Scan(&f.Source, &updated, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return Freshness{}, fmt.Errorf("disc %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return Freshness{}, s.fail("last updated", err)
	}
	f.UpdatedAt, f.StoredAt = fromNanos(updated), fromNanos(stored)
	return f, nil
}

// ProvenanceHistory returns the prior states of a record, oldest first.
func (s *Store) ProvenanceHistory(ctx context.Context, id string) ([]types.ProvenanceChange, error) {
	if _, err := s.LastUpdated(ctx, id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+historyColumns+` FROM provenance_history
		WHERE disc_id = ? ORDER BY replaced_at, history_id`, id)
	if err != nil {
		return nil, s.fail("provenance history", err)
	}
	defer rows.Close()

	var out []types.ProvenanceChange
	for rows.Next() {
		var (
			c                 types.ProvenanceChange
			stability         sql.NullFloat64
			updated, replaced int64
		)
		if err := rows.Scan(&c.HistoryID, &c.DiscID, &c.Provenance.Source, &c.Provenance.SchemaVersion,
			&updated, &c.Signature.Speed, &c.Signature.Glide, &c.Signature.Turn, &c.Signature.Fade,
			&stability, &replaced); err != nil {
			return nil, s.fail("scan history", err)
		}
		c.Provenance.UpdatedAt = fromNanos(updated)
		c.Signature.Stability = floatPtr(stability)
		c.ReplacedAt = fromNanos(replaced)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("scan history", err)
	}
	return out, nil
}

// SearchFilter narrows Search. Nil bounds and empty strings match
// everything; a zero Limit returns every match.
type SearchFilter struct {
	Brand        string
	Source       string
	SpeedMin     *float64
	SpeedMax     *float64
	StabilityMin *float64
	StabilityMax *float64
	Limit        int
}

// Search matches every whitespace-separated term of text, case-insensitively,
// against "brand mold". Results are ordered by brand, mold, then id.
func (s *Store) Search(ctx context.Context, text string, f SearchFilter) ([]*types.DiscRecord, error) {
	var (
		where []string
		args  []any
	)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		where = append(where, `LOWER(brand || ' ' || mold) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(term)+"%")
	}
	if f.Brand != "" {
		where = append(where, `brand = ? COLLATE NOCASE`)
		args = append(args, f.Brand)
	}
	if f.Source != "" {
		where = append(where, `source = ?`)
		args = append(args, f.Source)
	}
	if f.SpeedMin != nil {
		where = append(where, `speed >= ?`)
		args = append(args, *f.SpeedMin)
	}
	if f.SpeedMax != nil {
		where = append(where, `speed <= ?`)
		args = append(args, *f.SpeedMax)
	}
	if f.StabilityMin != nil {
		where = append(where, `turn + fade >= ?`)
		args = append(args, *f.StabilityMin)
	}
	if f.StabilityMax != nil {
		where = append(where, `turn + fade <= ?`)
		args = append(args, *f.StabilityMax)
	}

	query := `SELECT ` + discColumns + ` FROM discs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY brand COLLATE NOCASE, mold COLLATE NOCASE, disc_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryDiscs(ctx, "search discs", query, args...)
}

func (s *Store) queryDiscs(ctx context.Context, op, query string, args ...any) ([]*types.DiscRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var out []*types.DiscRecord
	for rows.Next() {
		rec, err := scanDisc(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDisc(row scanner) (*types.DiscRecord, error) {
	var (
		rec                types.DiscRecord
		stability          sql.NullFloat64
		plastics, physical string
		updated, stored    int64
	)
	err := row.Scan(&rec.ID, &rec.Brand, &rec.Mold, &rec.Provenance.Source, &rec.Provenance.SchemaVersion,
		&rec.Signature.Speed, &rec.Signature.Glide, &rec.Signature.Turn, &rec.Signature.Fade, &stability,
		&plastics, &physical, &rec.Weblink, &updated, &stored)
	if err != nil {
		return nil, err
	}
	rec.Signature.Stability = floatPtr(stability)
	rec.Provenance.UpdatedAt = fromNanos(updated)
	rec.StoredAt = fromNanos(stored)

	if err := json.Unmarshal([]byte(plastics), &rec.Plastics); err != nil {
		return nil, fmt.Errorf("decode plastics of %s: %w", rec.ID, err)
	}
	if len(rec.Plastics) == 0 {
		rec.Plastics = nil
	}
	if err := json.Unmarshal([]byte(physical), &rec.Physical); err != nil {
		return nil, fmt.Errorf("decode physical spec of %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func encodeDetails(rec *types.DiscRecord) (string, string, error) {
	plastics := rec.Plastics
	if plastics == nil {
		plastics = []types.PlasticVariant{}
	}
	p, err := json.Marshal(plastics)
	if err != nil {
		return "", "", fmt.Errorf("encode plastics of %s: %w", rec.ID, err)
	}
	ph, err := json.Marshal(rec.Physical)
	if err != nil {
		return "", "", fmt.Errorf("encode physical spec of %s: %w", rec.ID, err)
	}
	return string(p), string(ph), nil
}

func validateRecord(rec *types.DiscRecord) error {
	switch {
	case rec == nil:
		return fmt.Errorf("%w: nil record", types.ErrInvalidData)
	case strings.TrimSpace(rec.ID) == "":
		return fmt.Errorf("%w: empty disc id", types.ErrInvalidID)
	case rec.Provenance.UpdatedAt.IsZero():
		return fmt.Errorf("%w: disc %s has no updated_at", types.ErrInvalidData, rec.ID)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
