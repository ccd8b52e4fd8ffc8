// Package sqlitestore is the default registry.Store implementation,
// persisting entities and their association sets with modernc.org/sqlite.
package sqlitestore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slidevault/wsipseudo/internal/registry"
	"github.com/slidevault/wsipseudo/internal/wsierr"
)

const pseudoIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
const pseudoIDLen = 13
const pseudoIDRetryBudget = 10

// DB is a registry backed by a single sqlite database file. Every
// pseudonymization operation opens exactly one Tx from it and finishes
// with Commit or Rollback.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and
// applies the registry schema.
func Open(dsn string) (*DB, error) {
	const op = "sqlitestore.Open"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, wsierr.Wrap(wsierr.FileIO, op, fmt.Errorf("apply schema: %w", err))
	}
	return &DB{sql: sqlDB}, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Begin opens a new unit-of-work transaction implementing registry.Store.
func (d *DB) Begin(ctx context.Context) (registry.Store, error) {
	const op = "sqlitestore.Begin"
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return &txStore{tx: tx}, nil
}

type txStore struct {
	tx *sql.Tx
}

func (s *txStore) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return wsierr.Wrap(wsierr.FileIO, "sqlitestore.Commit", err)
	}
	return nil
}

func (s *txStore) Rollback() error {
	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return wsierr.Wrap(wsierr.FileIO, "sqlitestore.Rollback", err)
	}
	return nil
}

// AllocatePseudoID draws a random pseudoIDLen-character alphanumeric ID,
// retrying on collision up to pseudoIDRetryBudget times.
func (s *txStore) AllocatePseudoID(kind registry.Kind) (string, error) {
	const op = "sqlitestore.AllocatePseudoID"
	table, err := tableFor(kind)
	if err != nil {
		return "", wsierr.Wrap(wsierr.InputInvalid, op, err)
	}
	for attempt := 0; attempt < pseudoIDRetryBudget; attempt++ {
		candidate, err := randomPseudoID()
		if err != nil {
			return "", wsierr.Wrap(wsierr.FileIO, op, err)
		}
		var exists int
		row := s.tx.QueryRow(fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE pseudo_id = ?", table), candidate)
		if err := row.Scan(&exists); err != nil {
			return "", wsierr.Wrap(wsierr.FileIO, op, err)
		}
		if exists == 0 {
			return candidate, nil
		}
	}
	return "", wsierr.Wrap(wsierr.RegistryConflict, op, fmt.Errorf("%s: no unique pseudo ID after %d attempts", kind, pseudoIDRetryBudget))
}

func randomPseudoID() (string, error) {
	b := make([]byte, pseudoIDLen)
	max := big.NewInt(int64(len(pseudoIDAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = pseudoIDAlphabet[n.Int64()]
	}
	return string(b), nil
}

func tableFor(kind registry.Kind) (string, error) {
	switch kind {
	case registry.KindStudy:
		return "study", nil
	case registry.KindPatient:
		return "patient", nil
	case registry.KindCase:
		return "case_entity", nil
	case registry.KindSlide:
		return "slide", nil
	default:
		return "", fmt.Errorf("unknown kind %v", kind)
	}
}

func nullStr(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(p *time.Time) interface{} {
	if p == nil {
		return nil
	}
	return p.UTC().Format(time.RFC3339Nano)
}

func nullInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func scanStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func scanInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func scanTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
