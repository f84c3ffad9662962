// Package signing records a recipient's countersignature: authorize, try the
// ledger, then record off-chain unless the signer explicitly declined.
package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"verifica.org/internal/documents"
	"verifica.org/internal/ledger"
	"verifica.org/internal/obs"
	"verifica.org/internal/roles"
)

// State of a signature attempt.
type State string

const (
	StateIdle          State = "idle"
	StateAuthorizing   State = "authorizing"
	StateLedgerSigning State = "ledger_signing"
	StateRecording     State = "recording"
	StateDone          State = "done"
	StateCancelled     State = "cancelled_by_user"
	StateFailed        State = "failed"
)

// Outcome of a signature attempt that did not fail.
type Outcome string

const (
	OutcomeSigned        Outcome = "signed"
	OutcomeAlreadySigned Outcome = "already_signed"
	OutcomeCancelled     Outcome = "cancelled"
)

var (
	ErrUnauthorized     = errors.New("signing: caller may not sign this document")
	ErrDocumentNotFound = documents.ErrNotFound
)

// Ledger reports the countersignature step.
type Ledger struct {
	Attempted bool   `json:"attempted"`
	Signed    bool   `json:"signed"`
	TxRef     string `json:"txRef,omitempty"`
	NetworkID int64  `json:"networkId,omitempty"`
	Skipped   string `json:"skipped,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// Result of Sign. Record is the stored record after the attempt.
type Result struct {
	Outcome Outcome          `json:"outcome"`
	Record  documents.Record `json:"document"`
	Ledger  Ledger           `json:"ledger"`
	Trace   []State          `json:"trace"`
}

// Coordinator signs documents.
type Coordinator struct {
	docs    documents.Store
	gateway *ledger.Gateway
	log     *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a Coordinator.
func New(docs documents.Store, gateway *ledger.Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{docs: docs, gateway: gateway, log: obs.Component("signing")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRecipient reports whether caller is addressed by rec: a specific recipient
// must be the caller; an open audience admits any caller whose role belongs to it.
func IsRecipient(rec documents.Record, caller roles.Binding) bool {
	if id := rec.Recipient.Selector.Identity(); id != "" {
		return rec.Recipient.Selector.Matches(caller.Identity)
	}
	t, ok := caller.Role.Target()
	return ok && t == rec.Recipient.TargetRole
}

// Sign records caller's signature of docID. conn is the caller's current ledger
// connection and may be nil.
func (c *Coordinator) Sign(ctx context.Context, conn ledger.Contract, caller roles.Binding, docID string) (Result, error) {
	res := Result{Trace: []State{StateIdle, StateAuthorizing}}
	log := c.log.With(zap.String("document_id", docID), zap.String("signer", caller.Identity))
	fail := func(outcome string, err error) (Result, error) {
		res.Trace = append(res.Trace, StateFailed)
		obs.SignatureTotal.WithLabelValues(outcome).Inc()
		return res, err
	}

	rec, err := c.docs.Get(ctx, docID)
	if errors.Is(err, documents.ErrNotFound) {
		return fail("not_found", fmt.Errorf("%w: %s", ErrDocumentNotFound, docID))
	}
	if err != nil {
		return fail("error", err)
	}
	if strings.TrimSpace(caller.Identity) == "" || !caller.Permissions.Sign {
		return fail("unauthorized", fmt.Errorf("%w: role %q cannot sign", ErrUnauthorized, caller.Role))
	}
	if !IsRecipient(rec, caller) {
		return fail("unauthorized", fmt.Errorf("%w: not a recipient of %s", ErrUnauthorized, docID))
	}
	if rec.HasSigned(caller.Identity) {
		res.Outcome, res.Record = OutcomeAlreadySigned, rec
		res.Trace = append(res.Trace, StateDone)
		obs.SignatureTotal.WithLabelValues(string(OutcomeAlreadySigned)).Inc()
		log.Info("already signed")
		return res, nil
	}

	var cancelled bool
	res.Ledger, cancelled = c.countersign(ctx, conn, rec, caller, log, &res.Trace)
	if cancelled {
		res.Trace = append(res.Trace, StateCancelled)
		res.Outcome, res.Record = OutcomeCancelled, rec
		obs.SignatureTotal.WithLabelValues(string(OutcomeCancelled)).Inc()
		return res, nil
	}

	res.Trace = append(res.Trace, StateRecording)
	ok, err := c.docs.SignIdempotent(ctx, docID, caller.Identity)
	if err != nil {
		log.Error("recording signature failed", zap.Error(err))
		return fail("error", fmt.Errorf("record signature on %s: %w", docID, err))
	}
	if !ok {
		return fail("not_found", fmt.Errorf("%w: %s", ErrDocumentNotFound, docID))
	}
	if res.Record, err = c.docs.Get(ctx, docID); err != nil {
		// signed but deleted in between; report what we wrote
		res.Record = rec
		res.Record.AddSigner(caller.Identity)
	}
	res.Outcome = OutcomeSigned
	res.Trace = append(res.Trace, StateDone)
	obs.SignatureTotal.WithLabelValues(string(OutcomeSigned)).Inc()
	log.Info("document signed", zap.Bool("ledger_signed", res.Ledger.Signed), zap.String("tx_ref", res.Ledger.TxRef))
	return res, nil
}

func (c *Coordinator) countersign(ctx context.Context, conn ledger.Contract, rec documents.Record, caller roles.Binding, log *zap.Logger, trace *[]State) (Ledger, bool) {
	var out Ledger
	hash := rec.ContentHash()
	switch {
	case !rec.Anchored():
		out.Skipped = "document has no ledger reference"
	case hash == "":
		out.Skipped = "document has no content hash"
	}
	if out.Skipped != "" {
		return out, false
	}
	support := c.gateway.CheckSupported(ctx, conn)
	out.NetworkID = support.NetworkID
	switch {
	case !support.Supported:
		out.Skipped = "network not supported"
	case support.NetworkID != rec.LedgerNetworkID:
		out.Skipped = fmt.Sprintf("document is anchored on network %d", rec.LedgerNetworkID)
	}
	if out.Skipped != "" {
		log.Info("ledger countersignature skipped", zap.String("reason", out.Skipped))
		return out, false
	}

	*trace = append(*trace, StateLedgerSigning)
	out.Attempted = true
	tx, err := c.gateway.Countersign(ctx, conn, caller.Identity, hash)
	switch {
	case err == nil:
		out.Signed, out.TxRef = true, tx
	case IsCancellation(err):
		log.Info("signature cancelled by user", zap.Error(err))
		return out, true
	default:
		out.Warning = "ledger countersignature failed, the signature was recorded without it: " + err.Error()
		log.Warn("countersign failed, recording anyway", zap.String("hash", hash), zap.Error(err))
	}
	return out, false
}

// cancellationMarkers are matched case-insensitively against error text.
var cancellationMarkers = []string{
	"user rejected",
	"rejected",
	"denied",
	"cancelled",
	"canceled",
	"action_rejected",
}

// CancelCode is the wallet error code for a declined request.
const CancelCode = 4001

type coder interface {
	ErrorCode() int
}

// IsCancellation reports whether err is the signer declining the request, as
// opposed to any other ledger failure.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ledger.ErrUserRejected) {
		return true
	}
	var ce coder
	if errors.As(err, &ce) && ce.ErrorCode() == CancelCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range cancellationMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
