package remote

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"verifica.org/internal/ledger"
)

// Messages on the wire are google.protobuf.Struct values with the field names
// below, so neither side needs generated stubs.
const (
	fieldHash           = "hash"
	fieldChainID        = "chainId"
	fieldTxRef          = "txRef"
	fieldExists         = "exists"
	fieldEntry          = "entry"
	fieldAccount        = "account"
	fieldAccounts       = "accounts"
	fieldAllowed        = "allowed"
	fieldContentAddress = "contentAddress"
	fieldTitle          = "title"
	fieldInstitution    = "institution"
	fieldRecipients     = "recipients"
	fieldIssuedAt       = "issuedAt"
	fieldCreator        = "creator"
	fieldCreatedAt      = "createdAt"
	fieldVerified       = "verified"
	fieldRevoked        = "revoked"
	fieldSigners        = "signers"
)

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

func stringList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func getString(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func getInt(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func getBool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func getStrings(s *structpb.Struct, key string) []string {
	list := s.GetFields()[key].GetListValue().GetValues()
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, v.GetStringValue())
	}
	return out
}

func hashFrom(s *structpb.Struct) (ledger.Hash, error) {
	return ledger.ParseHash(getString(s, fieldHash))
}

func encodeEntry(e ledger.Entry) map[string]any {
	return map[string]any{
		fieldHash:           e.Hash,
		fieldContentAddress: e.ContentAddress,
		fieldCreator:        e.Creator,
		fieldTitle:          e.Title,
		fieldInstitution:    e.Institution,
		fieldRecipients:     stringList(e.Recipients),
		fieldCreatedAt:      e.CreatedAt,
		fieldIssuedAt:       e.IssuedAt,
		fieldVerified:       e.Verified,
		fieldRevoked:        e.Revoked,
		fieldSigners:        stringList(e.Signers),
	}
}

func decodeEntry(s *structpb.Struct) ledger.Entry {
	return ledger.Entry{
		Hash:           getString(s, fieldHash),
		ContentAddress: getString(s, fieldContentAddress),
		Creator:        getString(s, fieldCreator),
		Title:          getString(s, fieldTitle),
		Institution:    getString(s, fieldInstitution),
		Recipients:     getStrings(s, fieldRecipients),
		CreatedAt:      getInt(s, fieldCreatedAt),
		IssuedAt:       getInt(s, fieldIssuedAt),
		Verified:       getBool(s, fieldVerified),
		Revoked:        getBool(s, fieldRevoked),
		Signers:        getStrings(s, fieldSigners),
	}
}
