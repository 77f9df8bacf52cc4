package server

import (
	"context"

	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/engine"
	"github.com/vctt94/andarbahar/pkg/rpc/abrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// betFailed reports err privately to the player and converts it for the
// caller.
func (s *Server) betFailed(playerID, roundID, op, correlation string, err error) error {
	s.eng.ReportBetError(playerID, roundID, op, correlation, err)
	return s.toStatus(op, err)
}

func (s *Server) betResponse(ctx context.Context, playerID string, b *engine.Bet) (*abrpc.BetResponse, error) {
	bal, err := s.eng.Balance(ctx, playerID)
	if err != nil {
		return nil, s.toStatus("Balance", err)
	}
	out := betToRPC(b)
	return &abrpc.BetResponse{Bet: &out, Balance: balanceToRPC(bal)}, nil
}

func (s *Server) PlaceBet(ctx context.Context, req *abrpc.PlaceBetRequest) (*abrpc.BetResponse, error) {
	playerID, err := requirePlayer(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.eng.PlaceBet(ctx, playerID, req.RoundID, req.Side, req.Amount)
	if err != nil {
		return nil, s.betFailed(playerID, req.RoundID, "place_bet", req.Correlation, err)
	}
	return s.betResponse(ctx, playerID, b)
}

func (s *Server) CancelBet(ctx context.Context, req *abrpc.CancelBetRequest) (*abrpc.BetResponse, error) {
	playerID, err := requirePlayer(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.eng.CancelBet(ctx, req.BetID, playerID)
	if err != nil {
		roundID := ""
		if b != nil {
			roundID = b.RoundID
		}
		return nil, s.betFailed(playerID, roundID, "cancel_bet", req.Correlation, err)
	}
	return s.betResponse(ctx, playerID, b)
}

func (s *Server) UndoLastBet(ctx context.Context, req *abrpc.UndoLastBetRequest) (*abrpc.BetResponse, error) {
	playerID, err := requirePlayer(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.eng.UndoLastBet(ctx, playerID, req.RoundID)
	if err != nil {
		return nil, s.betFailed(playerID, req.RoundID, "undo", req.Correlation, err)
	}
	return s.betResponse(ctx, playerID, b)
}

// batchResponse turns a partial batch into a successful response carrying
// the failure; a batch that placed nothing is an error.
func (s *Server) batchResponse(ctx context.Context, playerID, roundID, op, correlation string, res engine.BatchResult, err error) (*abrpc.BatchResponse, error) {
	if err != nil && len(res.Placed) == 0 {
		return nil, s.betFailed(playerID, roundID, op, correlation, err)
	}
	bal, berr := s.eng.Balance(ctx, playerID)
	if berr != nil {
		return nil, s.toStatus("Balance", berr)
	}
	resp := &abrpc.BatchResponse{
		Placed:  betsToRPC(res.Placed),
		Balance: balanceToRPC(bal),
	}
	if err != nil {
		resp.Failed = err.Error()
		resp.Code = engine.ErrorCode(err)
	}
	return resp, nil
}

func (s *Server) Rebet(ctx context.Context, req *abrpc.RebetRequest) (*abrpc.BatchResponse, error) {
	playerID, err := requirePlayer(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.eng.RebetFromPreviousRound(ctx, playerID, req.RoundID)
	return s.batchResponse(ctx, playerID, req.RoundID, "rebet", req.Correlation, res, err)
}

func (s *Server) DoubleBets(ctx context.Context, req *abrpc.DoubleBetsRequest) (*abrpc.BatchResponse, error) {
	playerID, err := requirePlayer(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.eng.DoubleCurrentBets(ctx, playerID, req.RoundID)
	return s.batchResponse(ctx, playerID, req.RoundID, "double", req.Correlation, res, err)
}

func (s *Server) GetBalance(ctx context.Context, _ *abrpc.GetBalanceRequest) (*abrpc.Balance, error) {
	playerID, err := requirePlayer(ctx)
	if err != nil {
		return nil, err
	}
	bal, err := s.eng.Balance(ctx, playerID)
	if err != nil {
		return nil, s.toStatus("GetBalance", err)
	}
	out := balanceToRPC(bal)
	return &out, nil
}

func (s *Server) GetStats(ctx context.Context, _ *abrpc.GetStatsRequest) (*abrpc.PlayerStats, error) {
	playerID, err := requirePlayer(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.eng.PlayerStats(ctx, playerID)
	if err != nil {
		return nil, s.toStatus("GetStats", err)
	}
	return &abrpc.PlayerStats{
		PlayerID:      st.PlayerID,
		RoundsPlayed:  st.RoundsPlayed,
		TotalStaked:   st.TotalStaked,
		TotalWinnings: st.TotalWinnings,
	}, nil
}

func (s *Server) GetRound(ctx context.Context, req *abrpc.GetRoundRequest) (*abrpc.RoundResponse, error) {
	r, err := s.eng.Round(ctx, req.RoundID)
	if err != nil {
		return nil, s.toStatus("GetRound", err)
	}
	return &abrpc.RoundResponse{Round: roundToRPC(r)}, nil
}

func (s *Server) GetActiveRound(ctx context.Context, req *abrpc.GetActiveRoundRequest) (*abrpc.RoundResponse, error) {
	r, err := s.eng.ActiveRound(ctx, req.GameID)
	if err != nil {
		return nil, s.toStatus("GetActiveRound", err)
	}
	return &abrpc.RoundResponse{Round: roundToRPC(r)}, nil
}

func (s *Server) SubscribeRound(req *abrpc.SubscribeRoundRequest, stream abrpc.EventStream) error {
	if req.RoundID == "" && req.GameID == "" {
		return status.Error(codes.InvalidArgument, "round_id or game_id is required")
	}
	return s.pump(stream, broadcast.Filter{RoundID: req.RoundID, GameID: req.GameID})
}

func (s *Server) SubscribePlayer(_ *abrpc.SubscribePlayerRequest, stream abrpc.EventStream) error {
	playerID, err := requirePlayer(stream.Context())
	if err != nil {
		return err
	}
	return s.pump(stream, broadcast.Filter{PlayerID: playerID})
}

// pump forwards hub envelopes matching f until the client goes away.
func (s *Server) pump(stream abrpc.EventStream, f broadcast.Filter) error {
	sub := s.hub.Subscribe(f)
	defer func() {
		sub.Close()
		if n := sub.Dropped(); n > 0 {
			s.log.Warnf("Subscriber %+v fell behind and missed %d events", f, n)
		}
	}()
	s.log.Debugf("Stream subscribed: %+v", f)

	// Headers go out immediately so clients know the subscription is live.
	if err := stream.SendHeader(nil); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C():
			if !ok {
				return status.Error(codes.Unavailable, "subscription closed")
			}
			if err := stream.Send(&env); err != nil {
				return err
			}
		}
	}
}
