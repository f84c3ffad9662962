package roles

import (
	"errors"
	"strings"
	"testing"
)

func TestRoleFromName(t *testing.T) {
	cases := []struct {
		name string
		want Role
	}{
		{"rector.ian.eth", Rector},
		{"Maestro.Elias.eth", Maestro},
		{"alumno.clavely.eth", Alumno},
		{"ana.rector.eth", Rector},
		{"pablo.maestro.eth", Maestro},
		{"lucia.alumno.eth", Alumno},
		{"maestro.rector.eth", Maestro},
		{"vitalik.eth", Unknown},
		{"director.eth", Unknown},
		{"ana.director.eth", Unknown},
		{"exalumno.eth", Unknown},
		{"grandmaestro.eth", Unknown},
		{"ana.exrector.eth", Unknown},
		{"rector", Unknown},
		{"", Unknown},
		{"   ", Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RoleFromName(tc.name); got != tc.want {
				t.Fatalf("RoleFromName(%q)=%q, want %q", tc.name, got, tc.want)
			}
		})
	}
}

func TestPermissionTable(t *testing.T) {
	cases := map[Role]Permissions{
		Unknown: {},
		Alumno:  {View: true, Read: true, Sign: true},
		Maestro: {View: true, Read: true, Sign: true, SendToAlumnos: true},
		Rector:  {View: true, Read: true, Sign: true, SendToAlumnos: true, SendToMaestros: true, ManageMembers: true},
	}
	for role, want := range cases {
		if got := PermissionsFor(role); got != want {
			t.Fatalf("PermissionsFor(%s)=%+v, want %+v", role, got, want)
		}
	}
}

func TestOverridesWinOverNames(t *testing.T) {
	d, err := NewDeriver([]Override{{
		Identity:    "0x5E8CE7675ECF8e892f704A4de8A268987789d0Da",
		Role:        Rector,
		DisplayName: "Rector Ian",
		Name:        "rector.ian.eth",
	}})
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}

	b := d.Derive("lucia.alumno.eth", "0x5e8ce7675ecf8e892f704a4de8a268987789d0da")
	if b.Role != Rector || b.DisplayName != "Rector Ian" {
		t.Fatalf("override not applied: %+v", b)
	}
	if !b.Permissions.ManageMembers {
		t.Fatalf("rector override must carry rector permissions: %+v", b.Permissions)
	}

	other := d.Derive("lucia.alumno.eth", "0x1111111111111111111111111111111111111111")
	if other.Role != Alumno || other.Identity != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("unexpected binding: %+v", other)
	}
}

func TestDeriveUnknown(t *testing.T) {
	var d *Deriver
	b := d.Derive("", "0xABC")
	if b.Role != Unknown || b.Permissions != (Permissions{}) {
		t.Fatalf("expected unknown binding, got %+v", b)
	}
	if b.Identity != "0xabc" {
		t.Fatalf("identity not normalized: %q", b.Identity)
	}
	if b.DisplayName != "Usuario" {
		t.Fatalf("display name = %q", b.DisplayName)
	}
}

func TestNewDeriverRejectsBadEntries(t *testing.T) {
	if _, err := NewDeriver([]Override{{Identity: "", Role: Rector}}); !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("expected ErrInvalidOverride, got %v", err)
	}
	if _, err := NewDeriver([]Override{{Identity: "0x1", Role: "dean"}}); !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("expected ErrInvalidOverride, got %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	src := `[{"identity":"0x9AbDd265383573AEC638601d77da43956385cB76","role":"maestro","displayName":"Maestro Elías","name":"maestro.elias.eth"}]`
	overrides, err := LoadOverrides(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	d, err := NewDeriver(overrides)
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}
	b := d.Derive("", "0x9abdd265383573aec638601d77da43956385cb76")
	if b.Role != Maestro || !b.CanSendTo(TargetAlumnos) || b.CanSendTo(TargetMaestros) {
		t.Fatalf("unexpected binding: %+v", b)
	}

	if _, err := LoadOverrides(strings.NewReader("{")); !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("expected ErrInvalidOverride, got %v", err)
	}
}

func TestTargets(t *testing.T) {
	if tgt, ok := Alumno.Target(); !ok || tgt != TargetAlumnos {
		t.Fatalf("Alumno.Target()=%q,%v", tgt, ok)
	}
	if _, ok := Rector.Target(); ok {
		t.Fatal("rector has no audience")
	}
	if TargetMaestros.Members() != Maestro {
		t.Fatal("maestros audience must be made of maestros")
	}
	if _, ok := ParseTarget("Profesores"); ok {
		t.Fatal("unexpected target accepted")
	}
	if tgt, ok := ParseTarget(" ALUMNOS "); !ok || tgt != TargetAlumnos {
		t.Fatalf("ParseTarget = %q,%v", tgt, ok)
	}
}
