package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"verifica.org/internal/ledger"
)

const (
	serviceName = "verifica.ledger.v1.Registry"
	accountKey  = "x-verifica-account"
)

// Client is a ledger.Contract backed by a registry relay reachable over gRPC.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

var (
	_ ledger.Contract = (*Client)(nil)
	_ ledger.Revoker  = (*Client)(nil)
)

// Dial creates a client with sensible defaults (insecure transport).
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying connection if Dial created it.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) ChainID(ctx context.Context) (int64, error) {
	out, err := c.call(ctx, "ChainID", "", map[string]any{})
	if err != nil {
		return 0, err
	}
	return getInt(out, fieldChainID), nil
}

func (c *Client) Lookup(ctx context.Context, hash ledger.Hash) (ledger.Entry, bool, error) {
	out, err := c.call(ctx, "Lookup", "", map[string]any{fieldHash: hash.String()})
	if err != nil {
		return ledger.Entry{}, false, err
	}
	if !getBool(out, fieldExists) {
		return ledger.Entry{}, false, nil
	}
	return decodeEntry(out.GetFields()[fieldEntry].GetStructValue()), true, nil
}

func (c *Client) Register(ctx context.Context, from string, reg ledger.Registration) (string, error) {
	out, err := c.call(ctx, "Register", from, map[string]any{
		fieldHash:           reg.Hash.String(),
		fieldContentAddress: reg.ContentAddress,
		fieldTitle:          reg.Title,
		fieldInstitution:    reg.Institution,
		fieldRecipients:     stringList(reg.Recipients),
		fieldIssuedAt:       reg.IssuedAt,
	})
	if err != nil {
		return "", err
	}
	return getString(out, fieldTxRef), nil
}

func (c *Client) Countersign(ctx context.Context, from string, hash ledger.Hash) (string, error) {
	out, err := c.call(ctx, "Countersign", from, map[string]any{fieldHash: hash.String()})
	if err != nil {
		return "", err
	}
	return getString(out, fieldTxRef), nil
}

func (c *Client) Recipients(ctx context.Context, hash ledger.Hash) ([]string, error) {
	out, err := c.call(ctx, "Recipients", "", map[string]any{fieldHash: hash.String()})
	if err != nil {
		return nil, err
	}
	return getStrings(out, fieldAccounts), nil
}

func (c *Client) CanSign(ctx context.Context, hash ledger.Hash, account string) (bool, error) {
	out, err := c.call(ctx, "CanSign", "", map[string]any{fieldHash: hash.String(), fieldAccount: account})
	if err != nil {
		return false, err
	}
	return getBool(out, fieldAllowed), nil
}

// Revoke withdraws an entry. Only its creator may revoke it.
func (c *Client) Revoke(ctx context.Context, from string, hash ledger.Hash) error {
	_, err := c.call(ctx, "Revoke", from, map[string]any{fieldHash: hash.String()})
	return err
}

func (c *Client) call(ctx context.Context, method, from string, fields map[string]any) (*structpb.Struct, error) {
	in, err := newStruct(fields)
	if err != nil {
		return nil, err
	}
	if from != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, accountKey, from)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ledger.TransientError{Op: method, Err: ctxErr}
		}
		return nil, mapLedgerError(method, err)
	}
	return out, nil
}

// mapLedgerError turns relay status codes back into gateway errors.
func mapLedgerError(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &ledger.TransientError{Op: method, Err: err}
	}
	msg := st.Message()
	switch st.Code() {
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", ledger.ErrAlreadyAnchored, msg)
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ledger.ErrNotAuthorized, msg)
	case codes.Canceled:
		return fmt.Errorf("%w: %s", ledger.ErrUserRejected, msg)
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ledger.ErrInvalidHash, msg)
	case codes.FailedPrecondition:
		return &ledger.RevertError{Reason: msg}
	}
	return &ledger.TransientError{Op: method, Err: errors.New(st.Code().String() + ": " + msg)}
}

// WithTimeout returns a context with default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
