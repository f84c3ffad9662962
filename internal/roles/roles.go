// Package roles maps a resolved identity to one of the fixed role tiers and its
// permission set.
package roles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Role is a permission tier.
type Role string

const (
	Unknown Role = "unknown"
	Alumno  Role = "alumno"
	Maestro Role = "maestro"
	Rector  Role = "rector"
)

// Target is the audience a document is sent to.
type Target string

const (
	TargetAlumnos  Target = "alumnos"
	TargetMaestros Target = "maestros"
)

// ErrInvalidOverride is returned when an override entry cannot be used.
var ErrInvalidOverride = errors.New("roles: invalid override")

// ParseRole accepts the three tiers, case-insensitively.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case Alumno:
		return Alumno, true
	case Maestro:
		return Maestro, true
	case Rector:
		return Rector, true
	}
	return Unknown, false
}

// ParseTarget accepts "alumnos" or "maestros", case-insensitively.
func ParseTarget(s string) (Target, bool) {
	switch Target(strings.ToLower(strings.TrimSpace(s))) {
	case TargetAlumnos:
		return TargetAlumnos, true
	case TargetMaestros:
		return TargetMaestros, true
	}
	return "", false
}

// Valid reports whether t names a known audience.
func (t Target) Valid() bool {
	_, ok := ParseTarget(string(t))
	return ok
}

// Members returns the role whose members make up the audience.
func (t Target) Members() Role {
	switch t {
	case TargetAlumnos:
		return Alumno
	case TargetMaestros:
		return Maestro
	}
	return Unknown
}

// Target returns the audience made of this role's members. Rector has none.
func (r Role) Target() (Target, bool) {
	switch r {
	case Alumno:
		return TargetAlumnos, true
	case Maestro:
		return TargetMaestros, true
	}
	return "", false
}

// Permissions is the capability set attached to a role.
type Permissions struct {
	View           bool `json:"canView"`
	Read           bool `json:"canRead"`
	Sign           bool `json:"canSign"`
	SendToAlumnos  bool `json:"canSendToAlumnos"`
	SendToMaestros bool `json:"canSendToMaestros"`
	ManageMembers  bool `json:"canManageMembers"`
}

// PermissionsFor returns the fixed permission set of a role.
func PermissionsFor(r Role) Permissions {
	switch r {
	case Alumno:
		return Permissions{View: true, Read: true, Sign: true}
	case Maestro:
		return Permissions{View: true, Read: true, Sign: true, SendToAlumnos: true}
	case Rector:
		return Permissions{View: true, Read: true, Sign: true, SendToAlumnos: true, SendToMaestros: true, ManageMembers: true}
	}
	return Permissions{}
}

// Binding ties an identity to its derived role.
type Binding struct {
	Identity    string      `json:"identity"`
	Role        Role        `json:"role"`
	DisplayName string      `json:"displayName"`
	NamePattern string      `json:"namePattern"`
	Permissions Permissions `json:"permissions"`
}

// CanSendTo reports whether the binding may issue documents to the audience.
func (b Binding) CanSendTo(t Target) bool {
	switch t {
	case TargetAlumnos:
		return b.Permissions.SendToAlumnos
	case TargetMaestros:
		return b.Permissions.SendToMaestros
	}
	return false
}

// Override pins a role to a specific identity regardless of its name.
type Override struct {
	Identity    string `json:"identity"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
}

// Deriver derives bindings. The zero value derives from names only.
type Deriver struct {
	overrides map[string]Binding
}

// NewDeriver builds a Deriver with the given override table. Identities are
// matched case-insensitively.
func NewDeriver(overrides []Override) (*Deriver, error) {
	d := &Deriver{overrides: make(map[string]Binding, len(overrides))}
	for _, o := range overrides {
		id := normalizeIdentity(o.Identity)
		if id == "" {
			return nil, fmt.Errorf("%w: identity is required", ErrInvalidOverride)
		}
		role, ok := ParseRole(string(o.Role))
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q for %s", ErrInvalidOverride, o.Role, id)
		}
		display := strings.TrimSpace(o.DisplayName)
		if display == "" {
			display = defaultDisplayName(role)
		}
		d.overrides[id] = Binding{
			Identity:    id,
			Role:        role,
			DisplayName: display,
			NamePattern: strings.ToLower(strings.TrimSpace(o.Name)),
			Permissions: PermissionsFor(role),
		}
	}
	return d, nil
}

// LoadOverrides decodes a JSON array of overrides.
func LoadOverrides(r io.Reader) ([]Override, error) {
	var out []Override
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	return out, nil
}

// Derive returns the binding for an identity with an optional resolved name.
// An override for the identity always wins; otherwise the name's conventions
// decide, and anything unmatched is Unknown with no permissions.
func (d *Deriver) Derive(name, identity string) Binding {
	id := normalizeIdentity(identity)
	if d != nil && id != "" {
		if b, ok := d.overrides[id]; ok {
			return b
		}
	}

	name = strings.ToLower(strings.TrimSpace(name))
	role := RoleFromName(name)
	pattern := name
	if pattern == "" && role != Unknown {
		pattern = "*." + string(role) + ".eth"
	}
	return Binding{
		Identity:    id,
		Role:        role,
		DisplayName: defaultDisplayName(role),
		NamePattern: pattern,
		Permissions: PermissionsFor(role),
	}
}

var (
	labelConventions = []struct {
		label string
		role  Role
	}{
		{"rector", Rector},
		{"maestro", Maestro},
		{"alumno", Alumno},
	}
	suffixConventions = []struct {
		suffix string
		role   Role
	}{
		{".rector.eth", Rector},
		{".maestro.eth", Maestro},
		{".alumno.eth", Alumno},
	}
)

// RoleFromName applies the naming conventions: the first label, then the
// parent domain. First match wins.
func RoleFromName(name string) Role {
	name = strings.ToLower(strings.TrimSpace(name))
	first, rest, ok := strings.Cut(name, ".")
	if !ok || rest == "" {
		return Unknown
	}
	for _, c := range labelConventions {
		if first == c.label {
			return c.role
		}
	}
	for _, c := range suffixConventions {
		if strings.HasSuffix(name, c.suffix) {
			return c.role
		}
	}
	return Unknown
}

func defaultDisplayName(r Role) string {
	switch r {
	case Rector:
		return "Rector"
	case Maestro:
		return "Maestro"
	case Alumno:
		return "Alumno"
	}
	return "Usuario"
}

func normalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
