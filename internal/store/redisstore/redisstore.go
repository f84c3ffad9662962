// Package redisstore keeps documents, rosters and aliases in Redis. Each record
// is a JSON string; per-document updates use WATCH/MULTI and are retried when a
// concurrent writer wins.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"verifica.org/internal/directory"
	"verifica.org/internal/documents"
)

const (
	defaultPrefix = "verifica"
	maxRetries    = 100
)

// Store implements documents.Store and directory.Store.
type Store struct {
	rdb    *redis.Client
	prefix string
}

var (
	_ documents.Store = (*Store)(nil)
	_ directory.Store = (*Store)(nil)
)

// Open connects to addr and pings it.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(rdb, ""), nil
}

// New wraps a client. Keys are namespaced with prefix ("verifica" if empty).
func New(rdb *redis.Client, prefix string) *Store {
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) Close() error { return s.rdb.Close() }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) docKey(id string) string { return s.prefix + ":doc:" + id }
func (s *Store) docIndex() string        { return s.prefix + ":docs" }
func (s *Store) membersKey() string      { return s.prefix + ":members" }
func (s *Store) aliasesKey() string      { return s.prefix + ":aliases" }

func decodeRecord(raw []byte) (documents.Record, error) {
	var rec documents.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return documents.Record{}, fmt.Errorf("decode record: %w", err)
	}
	if rec.SignedBy == nil {
		rec.SignedBy = []string{}
	}
	return rec, nil
}

func (s *Store) GetAll(ctx context.Context) (map[string]documents.Record, error) {
	ids, err := s.rdb.SMembers(ctx, s.docIndex()).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]documents.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (documents.Record, error) {
	raw, err := s.rdb.Get(ctx, s.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return documents.Record{}, documents.ErrNotFound
	}
	if err != nil {
		return documents.Record{}, err
	}
	return decodeRecord(raw)
}

func (s *Store) Save(ctx context.Context, rec documents.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return documents.ErrValidation
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.docKey(rec.ID), b, 0)
		p.SAdd(ctx, s.docIndex(), rec.ID)
		return nil
	})
	return err
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.docKey(id))
		p.SRem(ctx, s.docIndex(), id)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
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

// Update retries fn until its write commits without a concurrent change to
// the key, or fails with documents.ErrConflict after maxRetries attempts.
func (s *Store) Update(ctx context.Context, id string, fn func(*documents.Record) error) (documents.Record, error) {
	key := s.docKey(id)
	for i := 0; i < maxRetries; i++ {
		var out documents.Record
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return documents.ErrNotFound
			}
			if err != nil {
				return err
			}
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			if err := fn(&rec); err != nil {
				return err
			}
			rec.ID = id
			b, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, b, 0)
				return nil
			})
			out = rec
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return documents.Record{}, err
		}
		return out, nil
	}
	return documents.Record{}, documents.ErrConflict
}

func (s *Store) AddMember(ctx context.Context, m directory.Member) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ok, err := s.rdb.HSetNX(ctx, s.membersKey(), m.Identity, b).Result()
	if err != nil {
		return err
	}
	if !ok {
		return directory.ErrExists
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, identity string) (bool, error) {
	n, err := s.rdb.HDel(ctx, s.membersKey(), identity).Result()
	return n > 0, err
}

func (s *Store) GetMember(ctx context.Context, identity string) (directory.Member, error) {
	raw, err := s.rdb.HGet(ctx, s.membersKey(), identity).Bytes()
	if errors.Is(err, redis.Nil) {
		return directory.Member{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Member{}, err
	}
	var m directory.Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return directory.Member{}, fmt.Errorf("decode member: %w", err)
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]directory.Member, error) {
	all, err := s.rdb.HGetAll(ctx, s.membersKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]directory.Member, 0, len(all))
	for _, raw := range all {
		var m directory.Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode member: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) PutAlias(ctx context.Context, a directory.Alias) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.aliasesKey(), a.Email, b).Err()
}

func (s *Store) GetAlias(ctx context.Context, email string) (directory.Alias, error) {
	raw, err := s.rdb.HGet(ctx, s.aliasesKey(), email).Bytes()
	if errors.Is(err, redis.Nil) {
		return directory.Alias{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Alias{}, err
	}
	var a directory.Alias
	if err := json.Unmarshal(raw, &a); err != nil {
		return directory.Alias{}, fmt.Errorf("decode alias: %w", err)
	}
	return a, nil
}

func (s *Store) RemoveAlias(ctx context.Context, email string) (bool, error) {
	n, err := s.rdb.HDel(ctx, s.aliasesKey(), email).Result()
	return n > 0, err
}

func (s *Store) ListAliases(ctx context.Context) ([]directory.Alias, error) {
	all, err := s.rdb.HGetAll(ctx, s.aliasesKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]directory.Alias, 0, len(all))
	for _, raw := range all {
		var a directory.Alias
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode alias: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
