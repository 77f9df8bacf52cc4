package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/engine"
	"github.com/vctt94/andarbahar/pkg/rpc/abrpc"
	"google.golang.org/grpc/metadata"
	"nhooyr.io/websocket"
)

const (
	wsPingInterval = 15 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 4096
)

// wsCommand is a client frame. Type is one of place_bet, cancel_bet, undo,
// rebet and double.
type wsCommand struct {
	Type        string `json:"type"`
	Correlation string `json:"correlation,omitempty"`
	RoundID     string `json:"round_id,omitempty"`
	BetID       string `json:"bet_id,omitempty"`
	Side        string `json:"side,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
}

// wsAck acknowledges a successful command. Failures arrive as bet_error
// events carrying the same correlation.
type wsAck struct {
	Type        string      `json:"type"`
	Correlation string      `json:"correlation,omitempty"`
	Bet         *abrpc.Bet  `json:"bet,omitempty"`
	Placed      []abrpc.Bet `json:"placed,omitempty"`
	Failed      string      `json:"failed,omitempty"`
}

var errUnknownCommand = fmt.Errorf("%w: unknown command", engine.ErrInvalidInput)

// HTTPHandler serves the websocket gateway on /ws and a liveness probe on
// /healthz. originPatterns are passed to the websocket handshake;
// same-origin and non-browser clients are always accepted.
func (s *Server) HTTPHandler(originPatterns []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"subscribers": s.hub.Len(),
		})
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		s.serveWS(w, r, originPatterns)
	})
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, originPatterns []string) {
	md := metadata.MD{}
	if v := r.Header.Get(abrpc.MDPlayerID); v != "" {
		md.Set(abrpc.MDPlayerID, v)
	} else if v := r.URL.Query().Get("player"); v != "" {
		md.Set(abrpc.MDPlayerID, v)
	}
	id, err := s.auth.Authenticate(r.Context(), md)
	if err != nil || id.PlayerID == "" {
		http.Error(w, "player-id is required", http.StatusUnauthorized)
		return
	}
	filter := broadcast.Filter{
		RoundID:  r.URL.Query().Get("round"),
		GameID:   r.URL.Query().Get("game"),
		PlayerID: id.PlayerID,
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		s.wsLog.Debugf("Websocket accept from %s failed: %v", r.RemoteAddr, err)
		return
	}
	c.SetReadLimit(wsReadLimit)
	s.wsLog.Debugf("Websocket client %s connected (%+v)", id.PlayerID, filter)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.hub.Subscribe(filter)
	defer sub.Close()
	acks := make(chan wsAck, 16)

	// writer
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer cancel()
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			var frame any
			select {
			case <-ctx.Done():
				return
			case env, ok := <-sub.C():
				if !ok {
					return
				}
				frame = env
			case ack := <-acks:
				frame = ack
			case <-ping.C:
				if err := c.Ping(ctx); err != nil {
					return
				}
				continue
			}
			if err := s.writeFrame(ctx, c, frame); err != nil {
				s.wsLog.Debugf("Websocket write to %s failed: %v", id.PlayerID, err)
				return
			}
		}
	}()

	// reader
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.wsLog.Debugf("Undecodable frame from %s: %v\n%s", id.PlayerID, err, spew.Sdump(data))
			s.eng.ReportBetError(id.PlayerID, filter.RoundID, "decode", "",
				fmt.Errorf("%w: malformed frame", engine.ErrInvalidInput))
			continue
		}
		if cmd.RoundID == "" {
			cmd.RoundID = filter.RoundID
		}
		ack, err := s.runCommand(ctx, id.PlayerID, cmd)
		if err != nil {
			s.wsLog.Debugf("Command %s from %s failed: %v", cmd.Type, id.PlayerID, err)
			s.eng.ReportBetError(id.PlayerID, cmd.RoundID, cmd.Type, cmd.Correlation, err)
			continue
		}
		select {
		case acks <- ack:
		case <-ctx.Done():
		}
	}

	cancel()
	<-writeDone
	c.Close(websocket.StatusNormalClosure, "bye")
	s.wsLog.Debugf("Websocket client %s disconnected", id.PlayerID)
}

func (s *Server) writeFrame(ctx context.Context, c *websocket.Conn, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, data)
}

func (s *Server) runCommand(ctx context.Context, playerID string, cmd wsCommand) (wsAck, error) {
	ack := wsAck{Type: cmd.Type + "_ok", Correlation: cmd.Correlation}
	var (
		b   *engine.Bet
		res engine.BatchResult
		err error
	)
	switch cmd.Type {
	case "place_bet":
		b, err = s.eng.PlaceBet(ctx, playerID, cmd.RoundID, cmd.Side, cmd.Amount)
	case "cancel_bet":
		b, err = s.eng.CancelBet(ctx, cmd.BetID, playerID)
	case "undo":
		b, err = s.eng.UndoLastBet(ctx, playerID, cmd.RoundID)
	case "rebet":
		res, err = s.eng.RebetFromPreviousRound(ctx, playerID, cmd.RoundID)
	case "double":
		res, err = s.eng.DoubleCurrentBets(ctx, playerID, cmd.RoundID)
	default:
		return wsAck{}, fmt.Errorf("%w %q", errUnknownCommand, cmd.Type)
	}

	if b != nil && err == nil {
		out := betToRPC(b)
		ack.Bet = &out
	}
	if len(res.Placed) > 0 {
		ack.Placed = betsToRPC(res.Placed)
		if err != nil {
			ack.Failed = err.Error()
			err = nil
		}
	}
	if err != nil {
		return wsAck{}, err
	}
	return ack, nil
}
