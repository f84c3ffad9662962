package remote

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"verifica.org/internal/ledger"
	"verifica.org/internal/obs"
)

// Server exposes a ledger.Contract to remote clients.
type Server struct {
	contract ledger.Contract
	log      *zap.Logger
}

// registryServer is the handler type checked by grpc.Server.RegisterService.
type registryServer interface {
	handle(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
}

// NewServer wraps contract. A nil logger uses the shared one.
func NewServer(contract ledger.Contract, log *zap.Logger) *Server {
	if log == nil {
		log = obs.Component("ledgerd")
	}
	return &Server{contract: contract, log: log}
}

// Register attaches the registry service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*registryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ChainID"),
		unary("Lookup"),
		unary("Register"),
		unary("Countersign"),
		unary("Recipients"),
		unary("CanSign"),
		unary("Revoke"),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "verifica/ledger/v1/registry",
}

func unary(method string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			rs := srv.(registryServer)
			if interceptor == nil {
				return rs.handle(ctx, method, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return rs.handle(ctx, method, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func (s *Server) handle(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out, err := s.dispatch(ctx, method, in)
	if err != nil {
		st := toStatus(err)
		if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
			s.log.Warn("registry call failed", zap.String("method", method), zap.Error(err))
		}
		return nil, st.Err()
	}
	return newStructOrStatus(out)
}

func (s *Server) dispatch(ctx context.Context, method string, in *structpb.Struct) (map[string]any, error) {
	if method == "ChainID" {
		id, err := s.contract.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{fieldChainID: id}, nil
	}

	hash, err := hashFrom(in)
	if err != nil {
		return nil, err
	}
	from := accountFromContext(ctx)

	switch method {
	case "Lookup":
		e, ok, err := s.contract.Lookup(ctx, hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			return map[string]any{fieldExists: false}, nil
		}
		return map[string]any{fieldExists: true, fieldEntry: encodeEntry(e)}, nil
	case "Register":
		tx, err := s.contract.Register(ctx, from, ledger.Registration{
			Hash:           hash,
			ContentAddress: getString(in, fieldContentAddress),
			Title:          getString(in, fieldTitle),
			Institution:    getString(in, fieldInstitution),
			Recipients:     getStrings(in, fieldRecipients),
			IssuedAt:       getInt(in, fieldIssuedAt),
		})
		if err != nil {
			return nil, err
		}
		s.log.Info("document registered", zap.String("hash", hash.String()), zap.String("creator", from), zap.String("tx", tx))
		return map[string]any{fieldTxRef: tx}, nil
	case "Countersign":
		tx, err := s.contract.Countersign(ctx, from, hash)
		if err != nil {
			return nil, err
		}
		s.log.Info("document countersigned", zap.String("hash", hash.String()), zap.String("signer", from), zap.String("tx", tx))
		return map[string]any{fieldTxRef: tx}, nil
	case "Recipients":
		accounts, err := s.contract.Recipients(ctx, hash)
		if err != nil {
			return nil, err
		}
		return map[string]any{fieldAccounts: stringList(accounts)}, nil
	case "CanSign":
		ok, err := s.contract.CanSign(ctx, hash, getString(in, fieldAccount))
		if err != nil {
			return nil, err
		}
		return map[string]any{fieldAllowed: ok}, nil
	case "Revoke":
		rv, ok := s.contract.(ledger.Revoker)
		if !ok {
			return nil, status.Error(codes.Unimplemented, "registry does not support revocation")
		}
		if err := rv.Revoke(ctx, from, hash); err != nil {
			return nil, err
		}
		s.log.Info("document revoked", zap.String("hash", hash.String()), zap.String("creator", from))
		return map[string]any{}, nil
	}
	return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
}

func newStructOrStatus(fields map[string]any) (*structpb.Struct, error) {
	out, err := newStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func accountFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(accountKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

// toStatus is the inverse of mapLedgerError.
func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	var rev *ledger.RevertError
	switch {
	case errors.As(err, &rev):
		switch rev.Reason {
		case ledger.ReasonAlreadyExists:
			return status.New(codes.AlreadyExists, rev.Reason)
		case ledger.ReasonNotRecipient:
			return status.New(codes.PermissionDenied, rev.Reason)
		}
		return status.New(codes.FailedPrecondition, rev.Reason)
	case errors.Is(err, ledger.ErrAlreadyAnchored):
		return status.New(codes.AlreadyExists, err.Error())
	case errors.Is(err, ledger.ErrNotAuthorized):
		return status.New(codes.PermissionDenied, err.Error())
	case errors.Is(err, ledger.ErrUserRejected):
		return status.New(codes.Canceled, err.Error())
	case errors.Is(err, ledger.ErrInvalidHash):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	}
	return status.New(codes.Internal, err.Error())
}
