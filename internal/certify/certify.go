// Package certify runs the create-and-anchor flow: hash the files, pin them,
// optionally anchor the first file's hash on the ledger and persist the record.
package certify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"verifica.org/internal/documents"
	"verifica.org/internal/ids"
	"verifica.org/internal/ledger"
	"verifica.org/internal/obs"
	"verifica.org/internal/pin"
	"verifica.org/internal/roles"
)

// State of a submission.
type State string

const (
	StateIdle       State = "idle"
	StateHashing    State = "hashing"
	StateUploading  State = "uploading"
	StateAnchoring  State = "anchoring"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var (
	ErrForbidden = errors.New("certify: issuer may not send to this audience")
	ErrUpload    = errors.New("certify: upload failed")
)

// Roster answers who currently makes up an audience.
type Roster interface {
	Roster(ctx context.Context, t roles.Target) ([]string, error)
	InRoster(ctx context.Context, t roles.Target, identity string) (bool, error)
}

// Upload is one file of a submission.
type Upload struct {
	Name string
	Data []byte
}

// Submission is an issuer's request to certify a document.
type Submission struct {
	Title       string
	Institution string
	Description string
	Category    string
	// IssueDate is YYYY-MM-DD; today (UTC) when empty.
	IssueDate string
	Files     []Upload
	Issuer    roles.Binding
	Recipient documents.Recipient
}

// AnchorStatus is how the ledger step ended.
type AnchorStatus string

const (
	AnchorSkipped       AnchorStatus = "skipped"
	AnchorNoRecipients  AnchorStatus = "no_recipients"
	AnchorAlreadyExists AnchorStatus = "already_exists"
	AnchorAnchored      AnchorStatus = "anchored"
	AnchorFailed        AnchorStatus = "failed"
)

// NoRecipients explains an empty recipient set.
type NoRecipients struct {
	TargetRole roles.Target `json:"targetRole"`
	RosterSize int          `json:"rosterSize"`
	Message    string       `json:"message"`
}

// Anchor reports the ledger step. Only AnchorAnchored carries a TxRef.
type Anchor struct {
	Status        AnchorStatus  `json:"status"`
	TxRef         string        `json:"txRef,omitempty"`
	NetworkID     int64         `json:"networkId,omitempty"`
	AlreadyExists bool          `json:"alreadyExists"`
	Recipients    []string      `json:"recipients,omitempty"`
	NoRecipients  *NoRecipients `json:"noRecipients,omitempty"`
	Warning       string        `json:"warning,omitempty"`
}

// Result of a submission. Trace lists the states visited in order.
type Result struct {
	Record documents.Record `json:"document"`
	Anchor Anchor           `json:"ledger"`
	Trace  []State          `json:"trace"`
}

// Coordinator certifies documents.
type Coordinator struct {
	docs    documents.Store
	pinner  pin.Pinner
	gateway *ledger.Gateway
	roster  Roster
	log     *zap.Logger
	now     func() time.Time
	newID   func() string
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

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDs overrides the document id generator.
func WithIDs(newID func() string) Option {
	return func(c *Coordinator) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// New builds a Coordinator.
func New(docs documents.Store, pinner pin.Pinner, gateway *ledger.Gateway, roster Roster, opts ...Option) *Coordinator {
	c := &Coordinator{
		docs:    docs,
		pinner:  pinner,
		gateway: gateway,
		roster:  roster,
		log:     obs.Component("certify"),
		now:     time.Now,
		newID:   ids.NewDocumentID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HashContent returns the 0x-prefixed hex SHA-256 of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}

// Submit certifies sub. conn is the caller's current ledger connection and may
// be nil. Validation and authorization errors are returned before any work is
// done; an upload failure aborts with nothing written; ledger problems never
// fail the submission and are reported on Result.Anchor.
func (c *Coordinator) Submit(ctx context.Context, conn ledger.Contract, sub Submission) (Result, error) {
	res := Result{Trace: []State{StateIdle}}
	if err := c.validate(ctx, sub); err != nil {
		return res, err
	}
	log := c.log.With(zap.String("issuer", sub.Issuer.Identity), zap.String("target", string(sub.Recipient.TargetRole)))

	res.Trace = append(res.Trace, StateHashing)
	files := make([]documents.File, len(sub.Files))
	for i, f := range sub.Files {
		files[i] = documents.File{
			Name:        strings.TrimSpace(f.Name),
			SizeBytes:   int64(len(f.Data)),
			ContentHash: HashContent(f.Data),
		}
	}

	res.Trace = append(res.Trace, StateUploading)
	for i, f := range sub.Files {
		p, err := c.pinner.Upload(ctx, files[i].Name, f.Data)
		if err != nil {
			res.Trace = append(res.Trace, StateFailed)
			log.Warn("upload failed, submission aborted", zap.String("file", files[i].Name), zap.Error(err))
			return res, fmt.Errorf("%w: %s: %w", ErrUpload, files[i].Name, err)
		}
		files[i].ContentAddress = p.CID
		files[i].RetrievalURL = p.URL
	}

	now := c.now()
	rec := documents.Record{
		ID:          c.newID(),
		Title:       strings.TrimSpace(sub.Title),
		Institution: strings.TrimSpace(sub.Institution),
		Description: sub.Description,
		Category:    sub.Category,
		IssueDate:   sub.IssueDate,
		Files:       files,
		CreatedAt:   now.UnixMilli(),
		CreatedBy:   strings.ToLower(strings.TrimSpace(sub.Issuer.Identity)),
		Recipient:   sub.Recipient,
		Status:      documents.StatusPending,
		SignedBy:    []string{},
	}
	if rec.IssueDate == "" {
		rec.IssueDate = now.UTC().Format(time.DateOnly)
	}

	if support := c.gateway.CheckSupported(ctx, conn); support.Supported {
		res.Trace = append(res.Trace, StateAnchoring)
		res.Anchor = c.anchor(ctx, conn, support.NetworkID, rec, log)
		if res.Anchor.Status == AnchorAnchored {
			rec.LedgerTxRef = res.Anchor.TxRef
			rec.LedgerNetworkID = res.Anchor.NetworkID
		}
	} else {
		res.Anchor = Anchor{Status: AnchorSkipped, NetworkID: support.NetworkID}
		log.Info("ledger step skipped, network not supported", zap.Int64("network_id", support.NetworkID))
	}
	obs.AnchorTotal.WithLabelValues(string(res.Anchor.Status)).Inc()

	res.Trace = append(res.Trace, StatePersisting)
	if err := c.docs.Save(ctx, rec); err != nil {
		res.Trace = append(res.Trace, StateFailed)
		log.Error("persisting record failed", zap.String("document_id", rec.ID), zap.Error(err))
		return res, fmt.Errorf("persist %s: %w", rec.ID, err)
	}
	res.Record = rec
	res.Trace = append(res.Trace, StateDone)
	log.Info("document certified",
		zap.String("document_id", rec.ID),
		zap.String("hash", rec.ContentHash()),
		zap.String("ledger", string(res.Anchor.Status)),
		zap.String("tx_ref", rec.LedgerTxRef),
	)
	return res, nil
}

func (c *Coordinator) validate(ctx context.Context, sub Submission) error {
	var missing []string
	if len(sub.Files) == 0 {
		missing = append(missing, "files")
	}
	if strings.TrimSpace(sub.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(sub.Institution) == "" {
		missing = append(missing, "institution")
	}
	if strings.TrimSpace(sub.Issuer.Identity) == "" {
		missing = append(missing, "issuer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", documents.ErrValidation, strings.Join(missing, ", "))
	}
	for i, f := range sub.Files {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: file %d has no name", documents.ErrValidation, i)
		}
	}
	if sub.IssueDate != "" {
		if _, err := time.Parse(time.DateOnly, sub.IssueDate); err != nil {
			return fmt.Errorf("%w: issue date %q is not YYYY-MM-DD", documents.ErrValidation, sub.IssueDate)
		}
	}
	return c.CheckRecipient(ctx, sub.Issuer, sub.Recipient)
}

// CheckRecipient reports whether issuer may address a document to r: the
// issuer must be allowed to send to the target role, and a specific identity
// must be on that role's roster. Submissions and audience changes both go
// through it.
func (c *Coordinator) CheckRecipient(ctx context.Context, issuer roles.Binding, r documents.Recipient) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if !issuer.CanSendTo(r.TargetRole) {
		return fmt.Errorf("%w: %s cannot send to %s", ErrForbidden, issuer.Role, r.TargetRole)
	}
	if id := r.Selector.Identity(); id != "" {
		ok, err := c.roster.InRoster(ctx, r.TargetRole, id)
		if err != nil {
			return fmt.Errorf("check roster: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s is not one of the %s", documents.ErrValidation, id, r.TargetRole)
		}
	}
	return nil
}

var _ documents.RecipientPolicy = (*Coordinator)(nil)

func (c *Coordinator) anchor(ctx context.Context, conn ledger.Contract, network int64, rec documents.Record, log *zap.Logger) Anchor {
	out := Anchor{NetworkID: network}

	recipients, none, err := c.recipients(ctx, rec.Recipient)
	if err != nil {
		out.Status = AnchorFailed
		out.Warning = fmt.Sprintf("could not read the %s roster: %v", rec.Recipient.TargetRole, err)
		log.Warn("roster lookup failed, anchoring skipped", zap.Error(err))
		return out
	}
	if none != nil {
		out.Status = AnchorNoRecipients
		out.NoRecipients = none
		out.Warning = none.Message
		log.Warn("no recipients, anchoring skipped", zap.Int("roster_size", none.RosterSize))
		return out
	}
	out.Recipients = recipients

	hash := rec.Files[0].ContentHash
	if _, exists, err := c.gateway.Exists(ctx, conn, hash); err != nil {
		log.Debug("existence check failed, submitting anyway", zap.Error(err))
	} else if exists {
		out.Status, out.AlreadyExists = AnchorAlreadyExists, true
		log.Info("document already anchored", zap.String("hash", hash))
		return out
	}

	tx, err := c.gateway.Anchor(ctx, conn, rec.CreatedBy, ledger.AnchorRequest{
		Hash:           hash,
		ContentAddress: rec.Files[0].ContentAddress,
		Title:          rec.Title,
		Institution:    rec.Institution,
		Recipients:     recipients,
		IssuedAt:       issuedAt(rec.IssueDate, c.now()),
	})
	switch {
	case err == nil:
		out.Status, out.TxRef = AnchorAnchored, tx
	case errors.Is(err, ledger.ErrAlreadyAnchored):
		out.Status, out.AlreadyExists = AnchorAlreadyExists, true
		log.Info("document already anchored (detected on submit)", zap.String("hash", hash))
	default:
		out.Status = AnchorFailed
		out.Warning = "ledger anchoring failed, the document was saved without it: " + err.Error()
		log.Warn("anchoring failed, continuing without ledger reference", zap.String("hash", hash), zap.Error(err))
	}
	return out
}

// recipients resolves the concrete account set, or explains why it is empty.
func (c *Coordinator) recipients(ctx context.Context, r documents.Recipient) ([]string, *NoRecipients, error) {
	if id := r.Selector.Identity(); id != "" {
		return []string{id}, nil, nil
	}
	roster, err := c.roster.Roster(ctx, r.TargetRole)
	if err != nil {
		return nil, nil, err
	}
	out := make([]string, 0, len(roster))
	for _, id := range roster {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		return out, nil, nil
	}
	none := &NoRecipients{TargetRole: r.TargetRole, RosterSize: len(roster)}
	if len(roster) == 0 {
		none.Message = fmt.Sprintf("no %s registered: choose a specific recipient or add members first", r.TargetRole)
	} else {
		none.Message = fmt.Sprintf("choose a specific recipient or check that the %s have a valid account", r.TargetRole)
	}
	return nil, none, nil
}

// issuedAt is the issue date at midnight UTC, or today when it cannot be parsed.
func issuedAt(date string, now time.Time) time.Time {
	if t, err := time.Parse(time.DateOnly, date); err == nil {
		return t
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
