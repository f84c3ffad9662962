package redisstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"verifica.org/internal/directory"
	"verifica.org/internal/documents"
	"verifica.org/internal/documents/storetest"
	"verifica.org/internal/roles"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test"), mr
}

func TestDocumentStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) documents.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestKeyLayout(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, storetest.Record("doc_1", 1)); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:doc:doc_1") {
		t.Fatal("document key missing")
	}
	if ok, _ := mr.SIsMember("test:docs", "doc_1"); !ok {
		t.Fatal("document not indexed")
	}
	if _, err := s.Delete(ctx, "doc_1"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("test:doc:doc_1") {
		t.Fatal("document key left behind")
	}
	if ok, _ := mr.SIsMember("test:docs", "doc_1"); ok {
		t.Fatal("document still indexed")
	}
}

func TestGetAllSkipsDanglingIndex(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, storetest.Record("doc_1", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := mr.SAdd("test:docs", "doc_ghost"); err != nil {
		t.Fatal(err)
	}
	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one record, got %d", len(all))
	}
}

func TestDirectory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	svc := directory.NewService(s)

	if _, err := svc.AddMember(ctx, "0xX", "", roles.Alumno, "0xr"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddMember(ctx, "0xx", "", roles.Alumno, "0xr"); !errors.Is(err, directory.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := svc.AddMember(ctx, "0xM", "", roles.Maestro, "0xr"); err != nil {
		t.Fatal(err)
	}
	roster, err := svc.Roster(ctx, roles.TargetAlumnos)
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 1 || roster[0] != "0xx" {
		t.Fatalf("unexpected roster %v", roster)
	}
	if err := svc.RemoveMember(ctx, "0xm"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Member(ctx, "0xm"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.SetAlias(ctx, "ana@example.com", "ana.alumno.eth", ""); err != nil {
		t.Fatal(err)
	}
	if name, ok := svc.NameForEmail(ctx, "ANA@example.com"); !ok || name != "ana.alumno.eth" {
		t.Fatalf("NameForEmail: %q %v", name, ok)
	}
	if err := svc.RemoveAlias(ctx, "ana@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemoveAlias(ctx, "ana@example.com"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
