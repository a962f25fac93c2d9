package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// CreateBag creates an empty bag. Names are unique, case-insensitively.
func (s *Store) CreateBag(ctx context.Context, name string) (*types.Bag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.ErrInvalidName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	bag := &types.Bag{
		ID:        newID(),
		Name:      name,
		Entries:   []types.BagEntry{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("begin create bag", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM bags WHERE name = ?`, name).Scan(&exists)
	switch {
	case err == nil:
		return nil, fmt.Errorf("bag %q: %w", name, types.ErrDuplicateName)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, s.fail("create bag", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bags (bag_id, name, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		bag.ID, bag.Name, bag.Version, toNanos(now), toNanos(now)); err != nil {
		return nil, s.fail("create bag", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.fail("commit create bag", err)
	}
	s.recovered()
	return bag, nil
}

// GetBag returns a bag with its entries in insertion order.
func (s *Store) GetBag(ctx context.Context, id string) (*types.Bag, error) {
	return s.loadBag(ctx, `bag_id = ?`, id)
}

// GetBagByName looks a bag up by name, case-insensitively.
func (s *Store) GetBagByName(ctx context.Context, name string) (*types.Bag, error) {
	return s.loadBag(ctx, `name = ?`, strings.TrimSpace(name))
}

func (s *Store) loadBag(ctx context.Context, cond string, arg string) (*types.Bag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	// One read transaction so the entries match the version.
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, s.fail("begin load bag", err)
	}
	defer tx.Rollback()

	bag, err := scanBag(tx.QueryRowContext(ctx,
		`SELECT bag_id, name, version, created_at, updated_at FROM bags WHERE `+cond, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bag %s: %w", arg, types.ErrNotFound)
	}
	if err != nil {
		return nil, s.fail("load bag", err)
	}
	if bag.Entries, err = bagEntries(ctx, tx, bag.ID); err != nil {
		return nil, s.fail("load bag entries", err)
	}
	return bag, nil
}

// ListBags returns every bag, with entries, ordered by name.
func (s *Store) ListBags(ctx context.Context) ([]*types.Bag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, s.fail("begin list bags", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT bag_id, name, version, created_at, updated_at FROM bags ORDER BY name, bag_id`)
	if err != nil {
		return nil, s.fail("list bags", err)
	}
	var bags []*types.Bag
	for rows.Next() {
		bag, err := scanBag(rows)
		if err != nil {
			rows.Close()
			return nil, s.fail("scan bag", err)
		}
		bags = append(bags, bag)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.fail("list bags", err)
	}

	for _, bag := range bags {
		if bag.Entries, err = bagEntries(ctx, tx, bag.ID); err != nil {
			return nil, s.fail("load bag entries", err)
		}
	}
	return bags, nil
}

// DeleteBag removes a bag and its entries.
func (s *Store) DeleteBag(ctx context.Context, id string) error {
	lock := s.bagLock(id)
	lock.Lock()
	defer lock.Unlock()

	err := s.mutateBag(ctx, id, "delete bag", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bag_entries WHERE bag_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM bags WHERE bag_id = ?`, id)
		return err
	}, false)
	if err == nil {
		// Bag ids are never reused.
		s.bagLocks.Delete(id)
	}
	return err
}

// AddEntry appends an entry to a bag. The entry gets a fresh id and
// timestamp; an empty orientation means backhand.
func (s *Store) AddEntry(ctx context.Context, bagID string, e types.BagEntry) (types.BagEntry, error) {
	if strings.TrimSpace(e.DiscID) == "" {
		return types.BagEntry{}, fmt.Errorf("%w: empty disc id", types.ErrInvalidID)
	}
	o, err := types.ParseOrientation(string(e.Orientation))
	if err != nil {
		return types.BagEntry{}, err
	}
	if e.WeightG != nil && *e.WeightG <= 0 {
		return types.BagEntry{}, fmt.Errorf("%w: weight must be positive", types.ErrInvalidData)
	}

	e.EntryID = newID()
	e.Orientation = o
	e.AddedAt = s.now().UTC()

	lock := s.bagLock(bagID)
	lock.Lock()
	defer lock.Unlock()

	err = s.mutateBag(ctx, bagID, "add entry", func(tx *sql.Tx) error {
		return insertEntry(ctx, tx, bagID, e)
	}, true)
	if err != nil {
		return types.BagEntry{}, err
	}
	return e, nil
}

// RemoveEntry deletes one entry from a bag.
func (s *Store) RemoveEntry(ctx context.Context, bagID, entryID string) error {
	lock := s.bagLock(bagID)
	lock.Lock()
	defer lock.Unlock()

	return s.mutateBag(ctx, bagID, "remove entry", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM bag_entries WHERE bag_id = ? AND entry_id = ?`, bagID, entryID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("entry %s: %w", entryID, types.ErrEntryNotInBag)
		}
		return nil
	}, true)
}

// CopyEntry copies an entry of one bag into another. The copy gets its own
// id; nothing is shared between the bags.
func (s *Store) CopyEntry(ctx context.Context, fromBagID, entryID, toBagID string) (types.BagEntry, error) {
	lock := s.bagLock(toBagID)
	lock.Lock()
	defer lock.Unlock()

	var copied types.BagEntry
	err := s.mutateBag(ctx, toBagID, "copy entry", func(tx *sql.Tx) error {
		src, err := scanEntry(tx.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM bag_entries WHERE bag_id = ? AND entry_id = ?`, fromBagID, entryID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("entry %s: %w", entryID, types.ErrEntryNotInBag)
		}
		if err != nil {
			return err
		}
		copied = src
		copied.EntryID = newID()
		copied.AddedAt = s.now().UTC()
		if src.WeightG != nil {
			w := *src.WeightG
			copied.WeightG = &w
		}
		return insertEntry(ctx, tx, toBagID, copied)
	}, true)
	if err != nil {
		return types.BagEntry{}, err
	}
	return copied, nil
}

// mutateBag runs fn in a transaction after checking the bag exists and,
// when bump is set, increments its version. The caller holds the bag lock.
func (s *Store) mutateBag(ctx context.Context, bagID, op string, fn func(*sql.Tx) error, bump bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("begin "+op, err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM bags WHERE bag_id = ?`, bagID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		s.bagLocks.Delete(bagID)
		return fmt.Errorf("bag %s: %w", bagID, types.ErrNotFound)
	}
	if err != nil {
		return s.fail(op, err)
	}

	if err := fn(tx); err != nil {
		return s.fail(op, err)
	}
	if bump {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bags SET version = version + 1, updated_at = ? WHERE bag_id = ?`,
			toNanos(s.now()), bagID); err != nil {
			return s.fail(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.fail("commit "+op, err)
	}
	s.recovered()
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, bagID string, e types.BagEntry) error {
	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM bag_entries WHERE bag_id = ?`, bagID).Scan(&next); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO bag_entries
		(entry_id, bag_id, disc_id, plastic, weight_g, orientation, position, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, bagID, e.DiscID, e.Plastic, nullFloat(e.WeightG), string(e.Orientation), next, toNanos(e.AddedAt))
	return err
}

func bagEntries(ctx context.Context, tx *sql.Tx, bagID string) ([]types.BagEntry, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM bag_entries WHERE bag_id = ? ORDER BY position`, bagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []types.BagEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanBag(row scanner) (*types.Bag, error) {
	var (
		bag              types.Bag
		created, updated int64
	)
	if err := row.Scan(&bag.ID, &bag.Name, &bag.Version, &created, &updated); err != nil {
		return nil, err
	}
	bag.CreatedAt, bag.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &bag, nil
}

func scanEntry(row scanner) (types.BagEntry, error) {
	var (
		e           types.BagEntry
		weight      sql.NullFloat64
		orientation string
		added       int64
	)
	if err := row.Scan(&e.EntryID, &e.DiscID, &e.Plastic, &weight, &orientation, &added); err != nil {
		return types.BagEntry{}, err
	}
	e.WeightG = floatPtr(weight)
	e.Orientation = types.Orientation(orientation)
	e.AddedAt = fromNanos(added)
	return e, nil
}
