package abrpc

import (
	"context"

	"google.golang.org/grpc"
)

const PlayerServiceName = "abrpc.PlayerService"

const (
	PlayerService_PlaceBet_FullMethodName        = "/abrpc.PlayerService/PlaceBet"
	PlayerService_CancelBet_FullMethodName       = "/abrpc.PlayerService/CancelBet"
	PlayerService_UndoLastBet_FullMethodName     = "/abrpc.PlayerService/UndoLastBet"
	PlayerService_Rebet_FullMethodName           = "/abrpc.PlayerService/Rebet"
	PlayerService_DoubleBets_FullMethodName      = "/abrpc.PlayerService/DoubleBets"
	PlayerService_GetBalance_FullMethodName      = "/abrpc.PlayerService/GetBalance"
	PlayerService_GetStats_FullMethodName        = "/abrpc.PlayerService/GetStats"
	PlayerService_GetRound_FullMethodName        = "/abrpc.PlayerService/GetRound"
	PlayerService_GetActiveRound_FullMethodName  = "/abrpc.PlayerService/GetActiveRound"
	PlayerService_SubscribeRound_FullMethodName  = "/abrpc.PlayerService/SubscribeRound"
	PlayerService_SubscribePlayer_FullMethodName = "/abrpc.PlayerService/SubscribePlayer"
)

// PlayerServiceServer is the player API. Calls act on behalf of the player
// named in the request metadata.
type PlayerServiceServer interface {
	PlaceBet(context.Context, *PlaceBetRequest) (*BetResponse, error)
	CancelBet(context.Context, *CancelBetRequest) (*BetResponse, error)
	UndoLastBet(context.Context, *UndoLastBetRequest) (*BetResponse, error)
	Rebet(context.Context, *RebetRequest) (*BatchResponse, error)
	DoubleBets(context.Context, *DoubleBetsRequest) (*BatchResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*Balance, error)
	GetStats(context.Context, *GetStatsRequest) (*PlayerStats, error)
	GetRound(context.Context, *GetRoundRequest) (*RoundResponse, error)
	GetActiveRound(context.Context, *GetActiveRoundRequest) (*RoundResponse, error)
	// SubscribeRound streams the public events of a round or game.
	SubscribeRound(*SubscribeRoundRequest, EventStream) error
	// SubscribePlayer streams the caller's private events.
	SubscribePlayer(*SubscribePlayerRequest, EventStream) error
}

var PlayerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: PlayerServiceName,
	HandlerType: (*PlayerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(PlayerServiceName, "PlaceBet", PlayerServiceServer.PlaceBet),
		unaryMethod(PlayerServiceName, "CancelBet", PlayerServiceServer.CancelBet),
		unaryMethod(PlayerServiceName, "UndoLastBet", PlayerServiceServer.UndoLastBet),
		unaryMethod(PlayerServiceName, "Rebet", PlayerServiceServer.Rebet),
		unaryMethod(PlayerServiceName, "DoubleBets", PlayerServiceServer.DoubleBets),
		unaryMethod(PlayerServiceName, "GetBalance", PlayerServiceServer.GetBalance),
		unaryMethod(PlayerServiceName, "GetStats", PlayerServiceServer.GetStats),
		unaryMethod(PlayerServiceName, "GetRound", PlayerServiceServer.GetRound),
		unaryMethod(PlayerServiceName, "GetActiveRound", PlayerServiceServer.GetActiveRound),
	},
	Streams: []grpc.StreamDesc{
		subscribeStream("SubscribeRound", PlayerServiceServer.SubscribeRound),
		subscribeStream("SubscribePlayer", PlayerServiceServer.SubscribePlayer),
	},
	Metadata: "abrpc/player",
}

func RegisterPlayerServiceServer(s grpc.ServiceRegistrar, srv PlayerServiceServer) {
	s.RegisterService(&PlayerService_ServiceDesc, srv)
}

type PlayerServiceClient interface {
	PlaceBet(ctx context.Context, in *PlaceBetRequest, opts ...grpc.CallOption) (*BetResponse, error)
	CancelBet(ctx context.Context, in *CancelBetRequest, opts ...grpc.CallOption) (*BetResponse, error)
	UndoLastBet(ctx context.Context, in *UndoLastBetRequest, opts ...grpc.CallOption) (*BetResponse, error)
	Rebet(ctx context.Context, in *RebetRequest, opts ...grpc.CallOption) (*BatchResponse, error)
	DoubleBets(ctx context.Context, in *DoubleBetsRequest, opts ...grpc.CallOption) (*BatchResponse, error)
	GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*Balance, error)
	GetStats(ctx context.Context, in *GetStatsRequest, opts ...grpc.CallOption) (*PlayerStats, error)
	GetRound(ctx context.Context, in *GetRoundRequest, opts ...grpc.CallOption) (*RoundResponse, error)
	GetActiveRound(ctx context.Context, in *GetActiveRoundRequest, opts ...grpc.CallOption) (*RoundResponse, error)
	SubscribeRound(ctx context.Context, in *SubscribeRoundRequest, opts ...grpc.CallOption) (EventStreamClient, error)
	SubscribePlayer(ctx context.Context, in *SubscribePlayerRequest, opts ...grpc.CallOption) (EventStreamClient, error)
}

type playerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPlayerServiceClient(cc grpc.ClientConnInterface) PlayerServiceClient {
	return &playerServiceClient{cc}
}

func (c *playerServiceClient) PlaceBet(ctx context.Context, in *PlaceBetRequest, opts ...grpc.CallOption) (*BetResponse, error) {
	return invoke[BetResponse](ctx, c.cc, PlayerService_PlaceBet_FullMethodName, in, opts)
}

func (c *playerServiceClient) CancelBet(ctx context.Context, in *CancelBetRequest, opts ...grpc.CallOption) (*BetResponse, error) {
	return invoke[BetResponse](ctx, c.cc, PlayerService_CancelBet_FullMethodName, in, opts)
}

func (c *playerServiceClient) UndoLastBet(ctx context.Context, in *UndoLastBetRequest, opts ...grpc.CallOption) (*BetResponse, error) {
	return invoke[BetResponse](ctx, c.cc, PlayerService_UndoLastBet_FullMethodName, in, opts)
}

func (c *playerServiceClient) Rebet(ctx context.Context, in *RebetRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c.cc, PlayerService_Rebet_FullMethodName, in, opts)
}

func (c *playerServiceClient) DoubleBets(ctx context.Context, in *DoubleBetsRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c.cc, PlayerService_DoubleBets_FullMethodName, in, opts)
}

func (c *playerServiceClient) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*Balance, error) {
	return invoke[Balance](ctx, c.cc, PlayerService_GetBalance_FullMethodName, in, opts)
}

func (c *playerServiceClient) GetStats(ctx context.Context, in *GetStatsRequest, opts ...grpc.CallOption) (*PlayerStats, error) {
	return invoke[PlayerStats](ctx, c.cc, PlayerService_GetStats_FullMethodName, in, opts)
}

func (c *playerServiceClient) GetRound(ctx context.Context, in *GetRoundRequest, opts ...grpc.CallOption) (*RoundResponse, error) {
	return invoke[RoundResponse](ctx, c.cc, PlayerService_GetRound_FullMethodName, in, opts)
}

func (c *playerServiceClient) GetActiveRound(ctx context.Context, in *GetActiveRoundRequest, opts ...grpc.CallOption) (*RoundResponse, error) {
	return invoke[RoundResponse](ctx, c.cc, PlayerService_GetActiveRound_FullMethodName, in, opts)
}

func (c *playerServiceClient) SubscribeRound(ctx context.Context, in *SubscribeRoundRequest, opts ...grpc.CallOption) (EventStreamClient, error) {
	return openSubscription(ctx, c.cc, &PlayerService_ServiceDesc.Streams[0], PlayerService_SubscribeRound_FullMethodName, in, opts)
}

func (c *playerServiceClient) SubscribePlayer(ctx context.Context, in *SubscribePlayerRequest, opts ...grpc.CallOption) (EventStreamClient, error) {
	return openSubscription(ctx, c.cc, &PlayerService_ServiceDesc.Streams[1], PlayerService_SubscribePlayer_FullMethodName, in, opts)
}
