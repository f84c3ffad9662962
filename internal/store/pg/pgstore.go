// Package pg stores documents, rosters and aliases in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"verifica.org/internal/documents"
	"verifica.org/internal/roles"
)

const pgErrUniqueViolation = "23505"

// Store implements documents.Store and directory.Store over database/sql.
type Store struct {
	db *sql.DB
}

var _ documents.Store = (*Store)(nil)

// Open connects with the pgx driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const recordColumns = `id, title, description, institution, issue_date, category, files,
	created_at, created_by, target_role, target_identity, status, signed_by,
	ledger_tx_ref, ledger_network_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (documents.Record, error) {
	var (
		rec            documents.Record
		files, signers []byte
		target, member string
		status         string
	)
	if err := row.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Institution, &rec.IssueDate, &rec.Category, &files,
		&rec.CreatedAt, &rec.CreatedBy, &target, &member, &status, &signers,
		&rec.LedgerTxRef, &rec.LedgerNetworkID); err != nil {
		return documents.Record{}, err
	}
	if len(files) > 0 {
		if err := json.Unmarshal(files, &rec.Files); err != nil {
			return documents.Record{}, fmt.Errorf("decode files of %s: %w", rec.ID, err)
		}
	}
	rec.SignedBy = []string{}
	if len(signers) > 0 {
		if err := json.Unmarshal(signers, &rec.SignedBy); err != nil {
			return documents.Record{}, fmt.Errorf("decode signers of %s: %w", rec.ID, err)
		}
	}
	rec.Recipient = documents.Recipient{TargetRole: roles.Target(target), Selector: documents.Specific(member)}
	rec.Status = documents.Status(status)
	return rec, nil
}

func recordArgs(rec documents.Record) ([]any, error) {
	files, err := json.Marshal(rec.Files)
	if err != nil {
		return nil, fmt.Errorf("encode files: %w", err)
	}
	signers := rec.SignedBy
	if signers == nil {
		signers = []string{}
	}
	signedBy, err := json.Marshal(signers)
	if err != nil {
		return nil, fmt.Errorf("encode signers: %w", err)
	}
	return []any{
		rec.ID, rec.Title, rec.Description, rec.Institution, rec.IssueDate, rec.Category, files,
		rec.CreatedAt, rec.CreatedBy, string(rec.Recipient.TargetRole), rec.Recipient.Selector.Identity(),
		string(rec.Status), signedBy, rec.LedgerTxRef, rec.LedgerNetworkID,
	}, nil
}

func (s *Store) GetAll(ctx context.Context) (map[string]documents.Record, error) {
	rows, err := s.db.QueryContext(ctx, `select `+recordColumns+` from documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]documents.Record)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (documents.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `select `+recordColumns+` from documents where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return documents.Record{}, documents.ErrNotFound
	}
	return rec, err
}

func (s *Store) Save(ctx context.Context, rec documents.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return documents.ErrValidation
	}
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into documents (`+recordColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		on conflict (id) do update set
			title = excluded.title,
			description = excluded.description,
			institution = excluded.institution,
			issue_date = excluded.issue_date,
			category = excluded.category,
			files = excluded.files,
			created_at = excluded.created_at,
			created_by = excluded.created_by,
			target_role = excluded.target_role,
			target_identity = excluded.target_identity,
			status = excluded.status,
			signed_by = excluded.signed_by,
			ledger_tx_ref = excluded.ledger_tx_ref,
			ledger_network_id = excluded.ledger_network_id,
			updated_at = now()
	`, args...)
	return err
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from documents where id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SignIdempotent(ctx context.Context, id, identity string) (bool, error) {
	_, err := s.Update(ctx, id, func(rec *documents.Record) error {
		rec.AddSigner(identity)
		return nil
	})
	if errors.Is(err, documents.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update locks the row for the duration of fn.
func (s *Store) Update(ctx context.Context, id string, fn func(*documents.Record) error) (documents.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return documents.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `select `+recordColumns+` from documents where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return documents.Record{}, documents.ErrNotFound
	}
	if err != nil {
		return documents.Record{}, err
	}
	if err := fn(&rec); err != nil {
		return documents.Record{}, err
	}
	rec.ID = id
	args, err := recordArgs(rec)
	if err != nil {
		return documents.Record{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update documents set
			title = $2, description = $3, institution = $4, issue_date = $5, category = $6, files = $7,
			created_at = $8, created_by = $9, target_role = $10, target_identity = $11, status = $12,
			signed_by = $13, ledger_tx_ref = $14, ledger_network_id = $15, updated_at = now()
		where id = $1
	`, args...); err != nil {
		return documents.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return documents.Record{}, err
	}
	return rec, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
