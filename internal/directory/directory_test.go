package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"verifica.org/internal/roles"
)

func newTestService() *Service {
	svc := NewService(NewMemory())
	var tick int64
	svc.now = func() time.Time {
		tick++
		return time.UnixMilli(1_700_000_000_000 + tick)
	}
	return svc
}

func TestRoster(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	for _, m := range []struct {
		id   string
		role roles.Role
	}{
		{"0xY", roles.Alumno},
		{"0xX", roles.Alumno},
		{"0xM", roles.Maestro},
	} {
		if _, err := svc.AddMember(ctx, m.id, "", m.role, "0xRector"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.Roster(ctx, roles.TargetAlumnos)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "0xy" || got[1] != "0xx" {
		t.Fatalf("roster should keep insertion order, got %v", got)
	}
	ok, err := svc.InRoster(ctx, roles.TargetMaestros, "0XM")
	if err != nil || !ok {
		t.Fatalf("InRoster maestro: ok=%v err=%v", ok, err)
	}
	ok, _ = svc.InRoster(ctx, roles.TargetMaestros, "0xX")
	if ok {
		t.Fatal("alumno must not be on the maestros roster")
	}
	ok, _ = svc.InRoster(ctx, roles.TargetAlumnos, "0xnobody")
	if ok {
		t.Fatal("unknown identity reported as member")
	}
	if _, err := svc.Roster(ctx, "rectores"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestAddMemberValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	cases := []struct {
		name string
		id   string
		role roles.Role
		want error
	}{
		{"no identity", " ", roles.Alumno, ErrInvalid},
		{"rector has no roster", "0x1", roles.Rector, ErrInvalid},
		{"unknown role", "0x1", roles.Unknown, ErrInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddMember(ctx, tc.id, "", tc.role, "0xr"); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := svc.AddMember(ctx, "0xA", "a.alumno.eth", roles.Alumno, "0xr"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddMember(ctx, "0xa", "", roles.Maestro, "0xr"); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if err := svc.RemoveMember(ctx, "0XA"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemoveMember(ctx, "0xa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAliases(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	first, err := svc.SetAlias(ctx, "Ana@Example.com", "Ana.Alumno.eth", "")
	if err != nil {
		t.Fatal(err)
	}
	if name, ok := svc.NameForEmail(ctx, "ana@example.com"); !ok || name != "ana.alumno.eth" {
		t.Fatalf("NameForEmail: %q %v", name, ok)
	}
	if _, err := svc.SetAlias(ctx, "other@example.com", "ana.alumno.eth", ""); !errors.Is(err, ErrAliasTaken) {
		t.Fatalf("expected ErrAliasTaken, got %v", err)
	}

	second, err := svc.SetAlias(ctx, "ana@example.com", "ana.maestro.eth", "0xA")
	if err != nil {
		t.Fatal(err)
	}
	if second.CreatedAt != first.CreatedAt || second.UpdatedAt <= first.UpdatedAt {
		t.Fatalf("update must keep creation time: %+v then %+v", first, second)
	}

	if err := svc.RemoveAlias(ctx, "ana@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.NameForEmail(ctx, "ana@example.com"); ok {
		t.Fatal("alias still present after removal")
	}
	if _, ok := svc.NameForEmail(ctx, ""); ok {
		t.Fatal("empty email must not resolve")
	}
	if _, err := svc.SetAlias(ctx, "", "x.eth", ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
