package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/vctt94/andarbahar/pkg/cards"
	"github.com/vctt94/andarbahar/pkg/rpc/abrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Common flags
var (
	grpcAddr    = flag.String("grpc", "127.0.0.1:50061", "abserver gRPC address")
	playerID    = flag.String("id", os.Getenv("AB_PLAYER_ID"), "Player ID for player commands")
	dealerToken = flag.String("token", os.Getenv("AB_DEALER_TOKEN"), "Dealer token for dealer commands")
	jsonOut     = flag.Bool("json", false, "Print raw JSON instead of styled output")
)

type cli struct {
	dealer abrpc.DealerServiceClient
	player abrpc.PlayerServiceClient
}

func (c *cli) dealerCtx(ctx context.Context) context.Context {
	return abrpc.WithDealerToken(ctx, *dealerToken)
}

func (c *cli) playerCtx(ctx context.Context) context.Context {
	return abrpc.WithPlayer(ctx, *playerID)
}

type command struct {
	usage string
	run   func(ctx context.Context, c *cli, args []string) error
}

var commands = map[string]command{
	"create-round": {"--game G --opening KH       Create a round", handleCreateRound},
	"start":        {"--round R [--secs N]         Start the betting countdown", handleStart},
	"close":        {"--round R                    Close betting", handleClose},
	"reopen":       {"--round R [--secs N]         Reopen betting for the next epoch", handleReopen},
	"deal":         {"--round R --card C --side S   Deal a card", handleDeal},
	"cancel-round": {"--round R [--reason TEXT]    Cancel a round and refund all bets", handleCancelRound},
	"adjust":       {"--player P --delta N [opts]  Credit or debit a balance", handleAdjust},
	"autodeal":     {"--game G [--rounds N] [--opening C] Run rounds from a shuffled shoe", handleAutodeal},
	"bet":          {"--round R --side S --amount N Place a bet", handleBet},
	"cancel-bet":   {"--bet B                      Cancel a pending bet", handleCancelBet},
	"undo":         {"--round R                    Undo the last bet", handleUndo},
	"rebet":        {"--round R                    Repeat the previous round's bets", handleRebet},
	"double":       {"--round R                    Double the current bets", handleDouble},
	"balance":      {"                             Show balance", handleBalance},
	"stats":        {"                             Show your results so far", handleStats},
	"round":        {"--round R                    Show a round", handleRound},
	"active":       {"--game G                     Show the active round of a game", handleActive},
	"watch":        {"--round R | --game G         Stream round events", handleWatch},
	"events":       {"                             Stream your private events", handleEvents},
}

var commandOrder = []string{
	"create-round", "start", "close", "reopen", "deal", "cancel-round", "adjust", "autodeal",
	"bet", "cancel-bet", "undo", "rebet", "double", "balance", "stats", "round", "active", "watch", "events",
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [global flags] <command> [args]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Commands:")
		for _, name := range commandOrder {
			fmt.Fprintf(os.Stderr, "  %-13s %s\n", name, commands[name].usage)
		}
		fmt.Fprintln(os.Stderr, "\nGlobal flags:")
		flag.CommandLine.SetOutput(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		flag.Usage()
		os.Exit(2)
	}

	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fatalErr(err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &cli{
		dealer: abrpc.NewDealerServiceClient(conn),
		player: abrpc.NewPlayerServiceClient(conn),
	}
	if err := cmd.run(ctx, c, flag.Args()[1:]); err != nil && !errors.Is(err, context.Canceled) {
		fatalErr(err)
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func fatalErr(err error) {
	fatal(err.Error())
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", fs.Name(), err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func show(v any, styled func() string) error {
	if *jsonOut {
		return printJSON(v)
	}
	fmt.Println(styled())
	return nil
}

func showRound(r *abrpc.Round) error {
	return show(r, func() string { return renderRound(r) })
}

func handleCreateRound(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("create-round")
	game := fs.String("game", "table-1", "Game ID")
	opening := fs.String("opening", "", "Opening card, e.g. KH")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.dealer.CreateRound(c.dealerCtx(ctx), &abrpc.CreateRoundRequest{GameID: *game, OpeningCard: *opening})
	if err != nil {
		return err
	}
	return showRound(resp.Round)
}

func handleStart(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("start")
	round := fs.String("round", "", "Round ID")
	secs := fs.Int("secs", 0, "Betting window in seconds (0 = server default)")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.dealer.StartBetting(c.dealerCtx(ctx), &abrpc.StartBettingRequest{RoundID: *round, DurationSeconds: *secs})
	if err != nil {
		return err
	}
	return showRound(resp.Round)
}

func handleClose(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("close")
	round := fs.String("round", "", "Round ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.dealer.CloseBetting(c.dealerCtx(ctx), &abrpc.CloseBettingRequest{RoundID: *round})
	if err != nil {
		return err
	}
	return showRound(resp.Round)
}

func handleReopen(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("reopen")
	round := fs.String("round", "", "Round ID")
	secs := fs.Int("secs", 0, "Betting window in seconds (0 = server default)")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.dealer.ReopenBetting(c.dealerCtx(ctx), &abrpc.ReopenBettingRequest{RoundID: *round, DurationSeconds: *secs})
	if err != nil {
		return err
	}
	return showRound(resp.Round)
}

func handleDeal(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("deal")
	round := fs.String("round", "", "Round ID")
	card := fs.String("card", "", "Card token, e.g. 10D")
	side := fs.String("side", "", "A or B")
	pos := fs.Int("pos", 0, "Tally position (0 = next)")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.dealer.DealCard(c.dealerCtx(ctx), &abrpc.DealCardRequest{
		RoundID: *round, Card: *card, Side: *side, Position: *pos,
	})
	if err != nil {
		return err
	}
	return show(resp, func() string { return renderDeal(resp) })
}

func handleCancelRound(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("cancel-round")
	round := fs.String("round", "", "Round ID")
	reason := fs.String("reason", "cancelled by dealer", "Reason shown to players")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.dealer.CancelRound(c.dealerCtx(ctx), &abrpc.CancelRoundRequest{RoundID: *round, Reason: *reason})
	if err != nil {
		return err
	}
	return showRound(resp.Round)
}

func handleAdjust(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("adjust")
	player := fs.String("player", "", "Player ID")
	pool := fs.String("pool", "main", "main or bonus")
	delta := fs.Int64("delta", 0, "Signed amount")
	reason := fs.String("reason", "abctl", "Journal reason")
	ref := fs.String("ref", "", "Idempotency reference")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.dealer.AdjustBalance(c.dealerCtx(ctx), &abrpc.AdjustBalanceRequest{
		PlayerID: *player, Pool: *pool, Delta: *delta, Reason: *reason, Reference: *ref,
	})
	if err != nil {
		return err
	}
	return show(resp, func() string {
		s := renderBalance(resp.Balance)
		if !resp.Applied {
			s += "\n" + dimStyle.Render("reference already applied")
		}
		return s
	})
}

// handleAutodeal plays rounds end to end from a shuffled shoe: open, wait
// out the betting window, then deal alternately until a card matches.
func handleAutodeal(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("autodeal")
	game := fs.String("game", "table-1", "Game ID")
	rounds := fs.Int("rounds", 1, "Rounds to play (0 = until interrupted)")
	secs := fs.Int("secs", 15, "Betting window in seconds")
	pause := fs.Duration("pause", time.Second, "Delay between cards")
	seed := fs.Int64("seed", 0, "Shoe RNG seed (0 = random)")
	openingTok := fs.String("opening", "", "Opening card of every round (default: drawn)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	var fixed cards.Card
	if *openingTok != "" {
		card, err := cards.ParseCard(*openingTok)
		if err != nil {
			return err
		}
		fixed = card
	}
	rng := rand.New(rand.NewSource(*seed))
	dctx := c.dealerCtx(ctx)

	for n := 0; *rounds == 0 || n < *rounds; n++ {
		shoe := cards.NewShoe(rng)
		opening := fixed
		if fixed.Valid() {
			shoe.Remove(fixed)
		} else {
			opening, _ = shoe.Draw()
		}
		created, err := c.dealer.CreateRound(dctx, &abrpc.CreateRoundRequest{GameID: *game, OpeningCard: opening.Token()})
		if err != nil {
			return err
		}
		roundID := created.Round.ID
		started, err := c.dealer.StartBetting(dctx, &abrpc.StartBettingRequest{RoundID: roundID, DurationSeconds: *secs})
		if err != nil {
			return err
		}
		if err := showRound(started.Round); err != nil {
			return err
		}
		if err := sleepCtx(ctx, time.Duration(*secs)*time.Second); err != nil {
			return err
		}

		side := string(cards.ExpectedSide(0))
		for {
			card, ok := shoe.Draw()
			if !ok {
				return fmt.Errorf("shoe exhausted in round %s", roundID)
			}
			resp, err := c.dealer.DealCard(dctx, &abrpc.DealCardRequest{RoundID: roundID, Card: card.Token(), Side: side})
			if err != nil {
				return err
			}
			if err := show(resp, func() string { return renderDeal(resp) }); err != nil {
				return err
			}
			if resp.Completed {
				break
			}
			side = resp.NextSide
			if err := sleepCtx(ctx, *pause); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func handleBet(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("bet")
	round := fs.String("round", "", "Round ID")
	side := fs.String("side", "", "A (andar) or B (bahar)")
	amount := fs.Int64("amount", 0, "Stake")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.player.PlaceBet(c.playerCtx(ctx), &abrpc.PlaceBetRequest{RoundID: *round, Side: *side, Amount: *amount})
	if err != nil {
		return err
	}
	return show(resp, func() string { return renderBet(resp) })
}

func handleCancelBet(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("cancel-bet")
	bet := fs.String("bet", "", "Bet ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.player.CancelBet(c.playerCtx(ctx), &abrpc.CancelBetRequest{BetID: *bet})
	if err != nil {
		return err
	}
	return show(resp, func() string { return renderBet(resp) })
}

func handleUndo(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("undo")
	round := fs.String("round", "", "Round ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.player.UndoLastBet(c.playerCtx(ctx), &abrpc.UndoLastBetRequest{RoundID: *round})
	if err != nil {
		return err
	}
	return show(resp, func() string { return renderBet(resp) })
}

func handleRebet(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("rebet")
	round := fs.String("round", "", "Round ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.player.Rebet(c.playerCtx(ctx), &abrpc.RebetRequest{RoundID: *round})
	if err != nil {
		return err
	}
	return show(resp, func() string { return renderBatch(resp) })
}

func handleDouble(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("double")
	round := fs.String("round", "", "Round ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.player.DoubleBets(c.playerCtx(ctx), &abrpc.DoubleBetsRequest{RoundID: *round})
	if err != nil {
		return err
	}
	return show(resp, func() string { return renderBatch(resp) })
}

func handleBalance(ctx context.Context, c *cli, _ []string) error {
	bal, err := c.player.GetBalance(c.playerCtx(ctx), &abrpc.GetBalanceRequest{})
	if err != nil {
		return err
	}
	return show(bal, func() string { return renderBalance(*bal) })
}

func handleStats(ctx context.Context, c *cli, _ []string) error {
	st, err := c.player.GetStats(c.playerCtx(ctx), &abrpc.GetStatsRequest{})
	if err != nil {
		return err
	}
	return show(st, func() string { return renderStats(*st) })
}

func handleRound(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("round")
	round := fs.String("round", "", "Round ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.player.GetRound(ctx, &abrpc.GetRoundRequest{RoundID: *round})
	if err != nil {
		return err
	}
	return showRound(resp.Round)
}

func handleActive(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("active")
	game := fs.String("game", "table-1", "Game ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	resp, err := c.player.GetActiveRound(ctx, &abrpc.GetActiveRoundRequest{GameID: *game})
	if err != nil {
		return err
	}
	return showRound(resp.Round)
}

func handleWatch(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("watch")
	round := fs.String("round", "", "Round ID")
	game := fs.String("game", "", "Game ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *round == "" && *game == "" {
		return errors.New("watch requires --round or --game")
	}
	stream, err := c.player.SubscribeRound(ctx, &abrpc.SubscribeRoundRequest{RoundID: *round, GameID: *game})
	if err != nil {
		return err
	}
	return printStream(stream)
}

func handleEvents(ctx context.Context, c *cli, _ []string) error {
	if strings.TrimSpace(*playerID) == "" {
		return errors.New("events requires --id")
	}
	stream, err := c.player.SubscribePlayer(c.playerCtx(ctx), &abrpc.SubscribePlayerRequest{})
	if err != nil {
		return err
	}
	return printStream(stream)
}

func printStream(stream abrpc.EventStreamClient) error {
	for {
		env, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}
		if *jsonOut {
			data, err := json.Marshal(env)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			continue
		}
		fmt.Println(renderEnvelope(env))
	}
}
