package server

import (
	"context"
	"time"

	"github.com/vctt94/andarbahar/pkg/ledger"
	"github.com/vctt94/andarbahar/pkg/rpc/abrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (s *Server) CreateRound(ctx context.Context, req *abrpc.CreateRoundRequest) (*abrpc.RoundResponse, error) {
	if err := requireDealer(ctx); err != nil {
		return nil, err
	}
	r, err := s.eng.CreateRound(ctx, req.GameID, req.OpeningCard)
	if err != nil {
		return nil, s.toStatus("CreateRound", err)
	}
	s.log.Infof("Dealer created round %s (game %s #%d) opening %s", r.ID, r.GameID, r.Number, r.OpeningCard)
	return &abrpc.RoundResponse{Round: roundToRPC(r)}, nil
}

func (s *Server) StartBetting(ctx context.Context, req *abrpc.StartBettingRequest) (*abrpc.RoundResponse, error) {
	if err := requireDealer(ctx); err != nil {
		return nil, err
	}
	if req.DurationSeconds < 0 {
		return nil, status.Error(codes.InvalidArgument, "duration must not be negative")
	}
	r, err := s.eng.StartBettingTimer(ctx, req.RoundID, seconds(req.DurationSeconds))
	if err != nil {
		return nil, s.toStatus("StartBetting", err)
	}
	return &abrpc.RoundResponse{Round: roundToRPC(r)}, nil
}

func (s *Server) CloseBetting(ctx context.Context, req *abrpc.CloseBettingRequest) (*abrpc.RoundResponse, error) {
	if err := requireDealer(ctx); err != nil {
		return nil, err
	}
	r, err := s.eng.CloseBetting(ctx, req.RoundID)
	if err != nil {
		return nil, s.toStatus("CloseBetting", err)
	}
	return &abrpc.RoundResponse{Round: roundToRPC(r)}, nil
}

func (s *Server) ReopenBetting(ctx context.Context, req *abrpc.ReopenBettingRequest) (*abrpc.RoundResponse, error) {
	if err := requireDealer(ctx); err != nil {
		return nil, err
	}
	if req.DurationSeconds < 0 {
		return nil, status.Error(codes.InvalidArgument, "duration must not be negative")
	}
	r, err := s.eng.ReopenBetting(ctx, req.RoundID, seconds(req.DurationSeconds))
	if err != nil {
		return nil, s.toStatus("ReopenBetting", err)
	}
	return &abrpc.RoundResponse{Round: roundToRPC(r)}, nil
}

// DealCard reports a completed round even when some credits failed; the
// failure is carried in CreditError and retried by the sweeper.
func (s *Server) DealCard(ctx context.Context, req *abrpc.DealCardRequest) (*abrpc.DealCardResponse, error) {
	if err := requireDealer(ctx); err != nil {
		return nil, err
	}
	res, err := s.eng.DealCard(ctx, req.RoundID, req.Card, req.Side, req.Position)
	if res == nil {
		return nil, s.toStatus("DealCard", err)
	}
	resp := &abrpc.DealCardResponse{
		Entry:       cardEntryToRPC(res.Entry),
		Completed:   res.Completed,
		NextSide:    string(res.NextSide),
		WinningSide: string(res.WinningSide),
		TotalPayout: res.TotalPayout,
		Settled:     betsToRPC(res.Settled),
	}
	if err != nil {
		s.log.Errorf("Round %s completed with credit failures: %v", req.RoundID, err)
		resp.CreditError = err.Error()
	}
	return resp, nil
}

func (s *Server) CancelRound(ctx context.Context, req *abrpc.CancelRoundRequest) (*abrpc.RoundResponse, error) {
	if err := requireDealer(ctx); err != nil {
		return nil, err
	}
	r, err := s.eng.CancelRound(ctx, req.RoundID, req.Reason)
	if r == nil {
		return nil, s.toStatus("CancelRound", err)
	}
	if err != nil {
		s.log.Errorf("Round %s cancelled with refund failures: %v", req.RoundID, err)
	}
	return &abrpc.RoundResponse{Round: roundToRPC(r)}, nil
}

func (s *Server) AdjustBalance(ctx context.Context, req *abrpc.AdjustBalanceRequest) (*abrpc.AdjustBalanceResponse, error) {
	if err := requireDealer(ctx); err != nil {
		return nil, err
	}
	pool := ledger.Pool(req.Pool)
	if req.Pool == "" {
		pool = ledger.PoolMain
	}
	res, err := s.eng.AdjustBalance(ctx, req.PlayerID, pool, req.Delta, req.Reason, req.Reference)
	if err != nil {
		return nil, s.toStatus("AdjustBalance", err)
	}
	s.log.Infof("Adjusted %s %s by %+d (%s), applied=%v", req.PlayerID, pool, req.Delta, req.Reason, res.Applied)
	return &abrpc.AdjustBalanceResponse{Balance: balanceToRPC(res.Balance), Applied: res.Applied}, nil
}
