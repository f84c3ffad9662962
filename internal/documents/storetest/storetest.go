// Package storetest runs the behaviour every documents.Store must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"verifica.org/internal/documents"
	"verifica.org/internal/roles"
)

// Record returns a valid pending record with the given id.
func Record(id string, createdAt int64) documents.Record {
	return documents.Record{
		ID:          id,
		Title:       "Certificado " + id,
		Institution: "Universidad",
		Files: []documents.File{{
			Name:        "cert.pdf",
			SizeBytes:   3,
			ContentHash: "0x" + fmt.Sprintf("%064x", createdAt),
		}},
		CreatedAt: createdAt,
		CreatedBy: "0x5e8ce767",
		Recipient: documents.Recipient{TargetRole: roles.TargetAlumnos, Selector: documents.All()},
		Status:    documents.StatusPending,
		SignedBy:  []string{},
	}
}

// Run exercises store, which must start empty.
func Run(t *testing.T, newStore func(t *testing.T) documents.Store) {
	t.Run("SaveGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := Record("doc_a", 1)
		rec.Recipient.Selector = documents.Specific("0xAbC")
		if err := s.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, "doc_a")
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != rec.Title || got.CreatedAt != 1 || got.Recipient.Selector.Identity() != "0xabc" {
			t.Fatalf("unexpected record %+v", got)
		}
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, documents.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveIsUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := Record("doc_a", 1)
		if err := s.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
		rec.Title = "renamed"
		if err := s.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
		all, err := s.GetAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 1 || all["doc_a"].Title != "renamed" {
			t.Fatalf("unexpected contents %+v", all)
		}
	})

	t.Run("SignIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Save(ctx, Record("doc_a", 1)); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			ok, err := s.SignIdempotent(ctx, "doc_a", "0xABC")
			if err != nil || !ok {
				t.Fatalf("sign #%d: ok=%v err=%v", i, ok, err)
			}
		}
		got, _ := s.Get(ctx, "doc_a")
		if len(got.SignedBy) != 1 || got.SignedBy[0] != "0xabc" || got.Status != documents.StatusSigned {
			t.Fatalf("unexpected signers %v status %s", got.SignedBy, got.Status)
		}
		ok, err := s.SignIdempotent(ctx, "missing", "0xabc")
		if err != nil || ok {
			t.Fatalf("missing record: ok=%v err=%v", ok, err)
		}
	})

	t.Run("ConcurrentSigners", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Save(ctx, Record("doc_a", 1)); err != nil {
			t.Fatal(err)
		}
		const n = 16
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(2)
			id := fmt.Sprintf("0x%02d", i)
			for j := 0; j < 2; j++ {
				go func() {
					defer wg.Done()
					if _, err := s.SignIdempotent(ctx, "doc_a", id); err != nil {
						t.Errorf("sign %s: %v", id, err)
					}
				}()
			}
		}
		wg.Wait()
		got, _ := s.Get(ctx, "doc_a")
		if len(got.SignedBy) != n {
			t.Fatalf("expected %d signers, got %d: %v", n, len(got.SignedBy), got.SignedBy)
		}
	})

	t.Run("UpdateAbortsOnError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Save(ctx, Record("doc_a", 1)); err != nil {
			t.Fatal(err)
		}
		boom := errors.New("boom")
		if _, err := s.Update(ctx, "doc_a", func(r *documents.Record) error {
			r.Title = "changed"
			return boom
		}); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		got, _ := s.Get(ctx, "doc_a")
		if got.Title == "changed" {
			t.Fatal("update applied despite error")
		}
		if _, err := s.Update(ctx, "missing", func(*documents.Record) error { return nil }); !errors.Is(err, documents.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Save(ctx, Record("doc_a", 1)); err != nil {
			t.Fatal(err)
		}
		ok, err := s.Delete(ctx, "doc_a")
		if err != nil || !ok {
			t.Fatalf("delete: ok=%v err=%v", ok, err)
		}
		ok, err = s.Delete(ctx, "doc_a")
		if err != nil || ok {
			t.Fatalf("second delete: ok=%v err=%v", ok, err)
		}
	})
}
