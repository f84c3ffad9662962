package pg

import (
	"context"
	"database/sql"
	"errors"

	"verifica.org/internal/directory"
	"verifica.org/internal/roles"
)

var _ directory.Store = (*Store)(nil)

func (s *Store) AddMember(ctx context.Context, m directory.Member) error {
	_, err := s.db.ExecContext(ctx, `
		insert into members (identity, name, role, added_by, added_at)
		values ($1, $2, $3, $4, $5)
	`, m.Identity, m.Name, string(m.Role), m.AddedBy, m.AddedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return directory.ErrExists
	}
	return err
}

func (s *Store) RemoveMember(ctx context.Context, identity string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from members where identity = $1`, identity)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) GetMember(ctx context.Context, identity string) (directory.Member, error) {
	var (
		m    directory.Member
		role string
	)
	err := s.db.QueryRowContext(ctx, `
		select identity, name, role, added_by, added_at from members where identity = $1
	`, identity).Scan(&m.Identity, &m.Name, &role, &m.AddedBy, &m.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Member{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Member{}, err
	}
	m.Role = roles.Role(role)
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]directory.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		select identity, name, role, added_by, added_at from members order by added_at, identity
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []directory.Member
	for rows.Next() {
		var (
			m    directory.Member
			role string
		)
		if err := rows.Scan(&m.Identity, &m.Name, &role, &m.AddedBy, &m.AddedAt); err != nil {
			return nil, err
		}
		m.Role = roles.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) PutAlias(ctx context.Context, a directory.Alias) error {
	_, err := s.db.ExecContext(ctx, `
		insert into aliases (email, name, identity, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (email) do update set
			name = excluded.name,
			identity = excluded.identity,
			updated_at = excluded.updated_at
	`, a.Email, a.Name, a.Identity, a.CreatedAt, a.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return directory.ErrAliasTaken
	}
	return err
}

func (s *Store) GetAlias(ctx context.Context, email string) (directory.Alias, error) {
	var a directory.Alias
	err := s.db.QueryRowContext(ctx, `
		select email, name, identity, created_at, updated_at from aliases where email = $1
	`, email).Scan(&a.Email, &a.Name, &a.Identity, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Alias{}, directory.ErrNotFound
	}
	return a, err
}

func (s *Store) RemoveAlias(ctx context.Context, email string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from aliases where email = $1`, email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ListAliases(ctx context.Context) ([]directory.Alias, error) {
	rows, err := s.db.QueryContext(ctx, `
		select email, name, identity, created_at, updated_at from aliases order by email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []directory.Alias
	for rows.Next() {
		var a directory.Alias
		if err := rows.Scan(&a.Email, &a.Name, &a.Identity, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
