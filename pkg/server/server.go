package server

import (
	"fmt"

	"github.com/decred/slog"
	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/engine"
	"github.com/vctt94/andarbahar/pkg/rpc/abrpc"
	"google.golang.org/grpc"
)

// Config wires a Server to its collaborators.
type Config struct {
	Engine *engine.Engine
	Hub    *broadcast.Hub
	Auth   Authenticator
	Log    slog.Logger
	// WSLog is used by the websocket gateway. Defaults to Log.
	WSLog slog.Logger
}

// Server implements both DealerService and PlayerService on top of a round
// engine, and serves the websocket gateway.
type Server struct {
	log   slog.Logger
	wsLog slog.Logger
	eng   *engine.Engine
	hub   *broadcast.Hub
	auth  Authenticator
}

var (
	_ abrpc.DealerServiceServer = (*Server)(nil)
	_ abrpc.PlayerServiceServer = (*Server)(nil)
)

// NewServer creates a new Andar Bahar server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Hub == nil {
		return nil, fmt.Errorf("server requires an engine and a hub")
	}
	s := &Server{
		log:   cfg.Log,
		wsLog: cfg.WSLog,
		eng:   cfg.Engine,
		hub:   cfg.Hub,
		auth:  cfg.Auth,
	}
	if s.log == nil {
		s.log = slog.Disabled
	}
	if s.wsLog == nil {
		s.wsLog = s.log
	}
	if s.auth == nil {
		return nil, fmt.Errorf("server requires an authenticator")
	}
	return s, nil
}

// NewGRPCServer returns a gRPC server with both services registered and
// the identity interceptors installed.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(s.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(s.StreamInterceptor()),
	)
	g := grpc.NewServer(opts...)
	abrpc.RegisterDealerServiceServer(g, s)
	abrpc.RegisterPlayerServiceServer(g, s)
	return g
}
