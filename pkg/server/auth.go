package server

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/vctt94/andarbahar/pkg/rpc/abrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Identity is the caller resolved from request metadata.
type Identity struct {
	PlayerID string
	Dealer   bool
}

// Authenticator resolves the caller of a request. Implementations return an
// error only for credentials that are present but wrong.
type Authenticator interface {
	Authenticate(ctx context.Context, md metadata.MD) (Identity, error)
}

// StaticAuthenticator trusts the player-id header and grants dealer
// privilege to callers presenting Token.
type StaticAuthenticator struct {
	Token string
}

func (a StaticAuthenticator) Authenticate(_ context.Context, md metadata.MD) (Identity, error) {
	var id Identity
	if v := md.Get(abrpc.MDPlayerID); len(v) > 0 {
		id.PlayerID = strings.TrimSpace(v[0])
	}
	if v := md.Get(abrpc.MDDealerToken); len(v) > 0 {
		if a.Token == "" || subtle.ConstantTimeCompare([]byte(v[0]), []byte(a.Token)) != 1 {
			return Identity{}, status.Error(codes.Unauthenticated, "invalid dealer token")
		}
		id.Dealer = true
	}
	return id, nil
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

func requirePlayer(ctx context.Context) (string, error) {
	id := identityFrom(ctx)
	if id.PlayerID == "" {
		return "", status.Error(codes.Unauthenticated, "player-id metadata is required")
	}
	return id.PlayerID, nil
}

func requireDealer(ctx context.Context) error {
	if !identityFrom(ctx).Dealer {
		return status.Error(codes.PermissionDenied, "dealer privilege required")
	}
	return nil
}

func (s *Server) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	id, err := s.auth.Authenticate(ctx, md)
	if err != nil {
		s.log.Warnf("Rejected %s: %v", fullMethod, err)
		return nil, err
	}
	return withIdentity(ctx, id), nil
}

// UnaryInterceptor resolves the caller identity of unary calls.
func (s *Server) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := s.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

// StreamInterceptor resolves the caller identity of streaming calls.
func (s *Server) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := s.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}
