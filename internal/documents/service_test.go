package documents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"verifica.org/internal/roles"
)

func testRecord(id string, createdAt int64, target roles.Target, sel Selector, hash string) Record {
	return Record{
		ID:          id,
		Title:       "Titulo",
		Institution: "Universidad",
		Files:       []File{{Name: "a.pdf", SizeBytes: 10, ContentHash: hash}},
		CreatedAt:   createdAt,
		CreatedBy:   "0xissuer",
		Recipient:   Recipient{TargetRole: target, Selector: sel},
		Status:      StatusPending,
		SignedBy:    []string{},
	}
}

var issuer = roles.Binding{Identity: "0xissuer", Role: roles.Maestro, Permissions: roles.PermissionsFor(roles.Maestro)}

func seeded(t *testing.T, recs ...Record) *Service {
	t.Helper()
	store := NewInMemory()
	for _, r := range recs {
		if err := store.Save(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	return NewService(store, WithLogger(zap.NewNop()))
}

func TestPatchKeepsImmutableFields(t *testing.T) {
	svc := seeded(t, testRecord("doc_1", 100, roles.TargetAlumnos, All(), "0xaa"))
	otherID, otherCreated, title := "doc_evil", int64(5), "Nuevo titulo"

	got, err := svc.Patch(context.Background(), "doc_1", issuer, Patch{ID: &otherID, CreatedAt: &otherCreated, Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "doc_1" || got.CreatedAt != 100 || got.Title != title {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, err := svc.Get(context.Background(), "doc_evil"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("patch created a second record: %v", err)
	}
}

func TestPatchValidates(t *testing.T) {
	svc := seeded(t, testRecord("doc_1", 100, roles.TargetAlumnos, All(), "0xaa"))
	empty := ""
	if _, err := svc.Patch(context.Background(), "doc_1", issuer, Patch{Title: &empty}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	signed := StatusSigned
	if _, err := svc.Patch(context.Background(), "doc_1", issuer, Patch{Status: &signed}); !errors.Is(err, ErrValidation) {
		t.Fatalf("signed without signers should fail, got %v", err)
	}
	got, _ := svc.Get(context.Background(), "doc_1")
	if got.Title != "Titulo" || got.Status != StatusPending {
		t.Fatalf("failed patch changed the record: %+v", got)
	}
	if _, err := svc.Patch(context.Background(), "missing", issuer, Patch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// rosterPolicy lets an editor address the audiences their role may send to,
// and specific identities on the matching roster.
type rosterPolicy map[roles.Target][]string

func (p rosterPolicy) CheckRecipient(_ context.Context, editor roles.Binding, r Recipient) error {
	if !editor.CanSendTo(r.TargetRole) {
		return errForbiddenAudience
	}
	if id := r.Selector.Identity(); id != "" {
		for _, m := range p[r.TargetRole] {
			if m == id {
				return nil
			}
		}
		return ErrValidation
	}
	return nil
}

var errForbiddenAudience = errors.New("audience not allowed")

func TestPatchRecipient(t *testing.T) {
	policy := rosterPolicy{roles.TargetAlumnos: {"0xa1"}, roles.TargetMaestros: {"0xissuer"}}
	anchored := testRecord("doc_2", 100, roles.TargetAlumnos, All(), "0xbb")
	anchored.LedgerTxRef, anchored.LedgerNetworkID = "0xtx", 534351

	store := NewInMemory()
	for _, r := range []Record{testRecord("doc_1", 100, roles.TargetAlumnos, All(), "0xaa"), anchored} {
		if err := store.Save(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	svc := NewService(store, WithLogger(zap.NewNop()), WithRecipientPolicy(policy))

	tests := []struct {
		name    string
		id      string
		body    string
		wantErr error
	}{
		{"outside the issuer's audiences", "doc_1", `{"sentTo":{"role":"maestros","memberAddress":"0xissuer"}}`, errForbiddenAudience},
		{"identity on no roster", "doc_1", `{"sentTo":{"role":"alumnos","memberAddress":"0xstranger"}}`, ErrValidation},
		{"unknown role", "doc_1", `{"sentTo":{"role":"rectores"}}`, ErrValidation},
		{"anchored audience is fixed", "doc_2", `{"sentTo":{"role":"alumnos","memberAddress":"0xA1"}}`, ErrValidation},
		{"roster member", "doc_1", `{"category":"titulo","sentTo":{"role":"alumnos","memberAddress":"0xA1"}}`, nil},
		{"unchanged audience on anchored", "doc_2", `{"category":"titulo","sentTo":{"role":"alumnos","memberAddress":"all"}}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Patch
			if err := json.Unmarshal([]byte(tt.body), &p); err != nil {
				t.Fatal(err)
			}
			before, _ := svc.Get(context.Background(), tt.id)
			got, err := svc.Patch(context.Background(), tt.id, issuer, p)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				after, _ := svc.Get(context.Background(), tt.id)
				if after.Recipient != before.Recipient {
					t.Fatalf("rejected patch changed the audience: %+v", after.Recipient)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Category != "titulo" || got.Recipient != *p.Recipient {
				t.Fatalf("unexpected record %+v", got)
			}
		})
	}
}

func TestPatchRecipientWithoutPolicy(t *testing.T) {
	svc := seeded(t, testRecord("doc_1", 100, roles.TargetAlumnos, All(), "0xaa"))
	retarget := Recipient{TargetRole: roles.TargetMaestros, Selector: All()}
	if _, err := svc.Patch(context.Background(), "doc_1", issuer, Patch{Recipient: &retarget}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestList(t *testing.T) {
	svc := seeded(t,
		testRecord("doc_1", 100, roles.TargetAlumnos, All(), "0x01"),
		testRecord("doc_2", 300, roles.TargetAlumnos, Specific("0xAAA"), "0x02"),
		testRecord("doc_3", 200, roles.TargetMaestros, All(), "0x03"),
		testRecord("doc_4", 400, roles.TargetAlumnos, Specific("0xbbb"), "0x04"),
	)
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"doc_4", "doc_2", "doc_3", "doc_1"}},
		{"target role", Filter{TargetRole: roles.TargetAlumnos}, []string{"doc_4", "doc_2", "doc_1"}},
		{"alumno member", Filter{MemberRole: roles.Alumno, Member: "0xaaa"}, []string{"doc_2", "doc_1"}},
		{"maestro member", Filter{MemberRole: roles.Maestro, Member: "0xccc"}, []string{"doc_3"}},
		{"rector sees all", Filter{MemberRole: roles.Rector, Member: "0xr"}, []string{"doc_4", "doc_2", "doc_3", "doc_1"}},
		{"member without identity", Filter{MemberRole: roles.Alumno}, []string{"doc_4", "doc_2", "doc_3", "doc_1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.ID
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("got %v want %v", ids, tt.want)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	svc := seeded(t, testRecord("doc_1", 100, roles.TargetAlumnos, All(), "0x01"))
	if err := svc.Delete(context.Background(), "doc_1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(context.Background(), "doc_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupByHash(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)
	pending := testRecord("doc_1", 100, roles.TargetAlumnos, All(), hash)
	signed := testRecord("doc_2", 50, roles.TargetAlumnos, All(), strings.ToUpper(hash[2:]))
	signed.AddSigner("0xX")
	svc := seeded(t, pending, signed, testRecord("doc_3", 10, roles.TargetAlumnos, All(), "0x01"))

	v, err := svc.LookupByHash(context.Background(), hash)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Found || v.Status != Verified || v.Confidence != 99 || v.Record.ID != "doc_2" {
		t.Fatalf("unexpected verification %+v", v)
	}

	v, _ = svc.LookupByHash(context.Background(), "0x1")
	if !v.Found || v.Status != Pending || v.Confidence != 50 || v.Record.ID != "doc_3" {
		t.Fatalf("short hash should match after padding: %+v", v)
	}

	v, _ = svc.LookupByHash(context.Background(), "0xdead")
	if v.Found || v.Status != Unverified || v.Confidence != 0 || v.Record != nil {
		t.Fatalf("unexpected verification %+v", v)
	}

	if _, err := svc.LookupByHash(context.Background(), " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRecordSignerInvariant(t *testing.T) {
	r := testRecord("doc_1", 1, roles.TargetAlumnos, All(), "")
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if !r.AddSigner(" 0xABC ") || r.AddSigner("0xabc") {
		t.Fatal("AddSigner must add once, case-insensitively")
	}
	if r.Status != StatusSigned || len(r.SignedBy) != 1 || r.SignedBy[0] != "0xabc" {
		t.Fatalf("unexpected record %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	r.Status = StatusPending
	if err := r.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("pending with signers must be invalid, got %v", err)
	}
}

func TestRecipientJSON(t *testing.T) {
	b, err := json.Marshal(Recipient{TargetRole: roles.TargetAlumnos, Selector: All()})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"role":"alumnos"}` {
		t.Fatalf("unexpected json %s", b)
	}
	var r Recipient
	if err := json.Unmarshal([]byte(`{"role":"Maestros","memberAddress":" 0xAB "}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.TargetRole != roles.TargetMaestros || !r.Selector.Matches("0xab") || r.Selector.IsAll() {
		t.Fatalf("unexpected recipient %+v", r)
	}
}
