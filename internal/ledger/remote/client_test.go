package remote

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"verifica.org/internal/ledger"
)

const (
	chainID    = 534351
	creator    = "0x5e8ce7675ecf8e892f704a4de8a268987789d0da"
	recipientX = "0x1111111111111111111111111111111111111111"
	recipientY = "0x2222222222222222222222222222222222222222"
)

var docHash = "0x" + strings.Repeat("ab", 32)

func TestMapLedgerError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name:  "already exists",
			err:   status.Error(codes.AlreadyExists, ledger.ReasonAlreadyExists),
			check: func(err error) bool { return errors.Is(err, ledger.ErrAlreadyAnchored) },
		},
		{
			name:  "permission denied",
			err:   status.Error(codes.PermissionDenied, ledger.ReasonNotRecipient),
			check: func(err error) bool { return errors.Is(err, ledger.ErrNotAuthorized) },
		},
		{
			name:  "canceled",
			err:   status.Error(codes.Canceled, "user rejected the request"),
			check: func(err error) bool { return errors.Is(err, ledger.ErrUserRejected) },
		},
		{
			name: "revert",
			err:  status.Error(codes.FailedPrecondition, ledger.ReasonAlreadySigned),
			check: func(err error) bool {
				var rev *ledger.RevertError
				return errors.As(err, &rev) && rev.Reason == ledger.ReasonAlreadySigned
			},
		},
		{
			name: "unavailable",
			err:  status.Error(codes.Unavailable, "connection refused"),
			check: func(err error) bool {
				var te *ledger.TransientError
				return errors.As(err, &te) && te.Op == "Register"
			},
		},
		{
			name: "not a status",
			err:  errors.New("boom"),
			check: func(err error) bool {
				var te *ledger.TransientError
				return errors.As(err, &te)
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := mapLedgerError("Register", tc.err); !tc.check(got) {
				t.Fatalf("mapLedgerError() = %v", got)
			}
		})
	}
}

func startRelay(t *testing.T, contract ledger.Contract) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewServer(contract, zap.NewNop()).Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestRelayRoundTrip(t *testing.T) {
	mem := ledger.NewMemory(chainID)
	client := startRelay(t, mem)
	ctx := context.Background()

	id, err := client.ChainID(ctx)
	if err != nil || id != chainID {
		t.Fatalf("ChainID = %d, %v", id, err)
	}

	gw := ledger.NewGateway([]int64{chainID}, ledger.WithLogger(zap.NewNop()))
	req := ledger.AnchorRequest{
		Hash:           docHash,
		ContentAddress: "bafkreigh2akiscaildc",
		Title:          "Diploma",
		Institution:    "UNI",
		Recipients:     []string{recipientX},
	}
	tx, err := gw.Anchor(ctx, client, creator, req)
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	if tx == "" {
		t.Fatal("expected tx ref")
	}

	e, ok, err := gw.Exists(ctx, client, docHash)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if e.Creator != creator || e.Title != "Diploma" || len(e.Recipients) != 1 || e.Recipients[0] != recipientX {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.IssuedAt == 0 || e.CreatedAt == 0 {
		t.Fatalf("timestamps not carried: %+v", e)
	}

	if _, err := gw.Anchor(ctx, client, creator, req); !errors.Is(err, ledger.ErrAlreadyAnchored) {
		t.Fatalf("second anchor err=%v", err)
	}

	if _, err := gw.Countersign(ctx, client, recipientY, docHash); !errors.Is(err, ledger.ErrNotAuthorized) {
		t.Fatalf("non recipient countersign err=%v", err)
	}
	if ok, err := gw.CanSign(ctx, client, docHash, recipientX); err != nil || !ok {
		t.Fatalf("CanSign = %v, %v", ok, err)
	}
	if _, err := gw.Countersign(ctx, client, recipientX, docHash); err != nil {
		t.Fatalf("Countersign: %v", err)
	}
	rcpts, err := gw.Recipients(ctx, client, docHash)
	if err != nil || len(rcpts) != 1 {
		t.Fatalf("Recipients = %v, %v", rcpts, err)
	}

	local, _, _ := mem.Lookup(ctx, ledger.MustParseHash(docHash))
	if len(local.Signers) != 1 || local.Signers[0] != recipientX {
		t.Fatalf("countersign did not reach the contract: %+v", local)
	}
}

// rejectingContract simulates a signer declining the prompt.
type rejectingContract struct {
	*ledger.Memory
}

func (rejectingContract) Countersign(ctx context.Context, from string, hash ledger.Hash) (string, error) {
	return "", ledger.ErrUserRejected
}

func TestRelayCarriesUserRejection(t *testing.T) {
	client := startRelay(t, rejectingContract{ledger.NewMemory(chainID)})
	_, err := client.Countersign(context.Background(), recipientX, ledger.MustParseHash(docHash))
	if !errors.Is(err, ledger.ErrUserRejected) {
		t.Fatalf("err=%v, want ErrUserRejected", err)
	}
}

func TestRelayRevoke(t *testing.T) {
	mem := ledger.NewMemory(chainID)
	client := startRelay(t, mem)
	ctx := context.Background()
	h := ledger.MustParseHash(docHash)

	if _, err := client.Register(ctx, creator, ledger.Registration{Hash: h, Recipients: []string{recipientX}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var rev *ledger.RevertError
	if err := client.Revoke(ctx, recipientX, h); !errors.As(err, &rev) || rev.Reason != ledger.ReasonNotCreator {
		t.Fatalf("non creator revoke err=%v", err)
	}
	if err := client.Revoke(ctx, creator, h); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	e, ok, err := client.Lookup(ctx, h)
	if err != nil || !ok || !e.Revoked {
		t.Fatalf("Lookup = %+v, %v, %v", e, ok, err)
	}
	if ok, err := client.CanSign(ctx, h, recipientX); err != nil || ok {
		t.Fatalf("CanSign after revoke = %v, %v", ok, err)
	}
	if _, err := client.Countersign(ctx, recipientX, h); !errors.As(err, &rev) || rev.Reason != ledger.ReasonRevoked {
		t.Fatalf("countersign after revoke err=%v", err)
	}
}

// viewOnlyContract hides the registry's Revoke method.
type viewOnlyContract struct {
	ledger.Contract
}

func TestRelayRevokeUnsupported(t *testing.T) {
	client := startRelay(t, viewOnlyContract{ledger.NewMemory(chainID)})
	err := client.Revoke(context.Background(), creator, ledger.MustParseHash(docHash))
	var te *ledger.TransientError
	if !errors.As(err, &te) || te.Op != "Revoke" || !strings.Contains(te.Err.Error(), codes.Unimplemented.String()) {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
}
