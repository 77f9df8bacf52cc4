package abrpc

import (
	"context"

	"google.golang.org/grpc"
)

const DealerServiceName = "abrpc.DealerService"

const (
	DealerService_CreateRound_FullMethodName   = "/abrpc.DealerService/CreateRound"
	DealerService_StartBetting_FullMethodName  = "/abrpc.DealerService/StartBetting"
	DealerService_CloseBetting_FullMethodName  = "/abrpc.DealerService/CloseBetting"
	DealerService_ReopenBetting_FullMethodName = "/abrpc.DealerService/ReopenBetting"
	DealerService_DealCard_FullMethodName      = "/abrpc.DealerService/DealCard"
	DealerService_CancelRound_FullMethodName   = "/abrpc.DealerService/CancelRound"
	DealerService_AdjustBalance_FullMethodName = "/abrpc.DealerService/AdjustBalance"
)

// DealerServiceServer is the dealer console API. Every call requires the
// dealer credential.
type DealerServiceServer interface {
	CreateRound(context.Context, *CreateRoundRequest) (*RoundResponse, error)
	StartBetting(context.Context, *StartBettingRequest) (*RoundResponse, error)
	CloseBetting(context.Context, *CloseBettingRequest) (*RoundResponse, error)
	ReopenBetting(context.Context, *ReopenBettingRequest) (*RoundResponse, error)
	DealCard(context.Context, *DealCardRequest) (*DealCardResponse, error)
	CancelRound(context.Context, *CancelRoundRequest) (*RoundResponse, error)
	AdjustBalance(context.Context, *AdjustBalanceRequest) (*AdjustBalanceResponse, error)
}

var DealerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: DealerServiceName,
	HandlerType: (*DealerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(DealerServiceName, "CreateRound", DealerServiceServer.CreateRound),
		unaryMethod(DealerServiceName, "StartBetting", DealerServiceServer.StartBetting),
		unaryMethod(DealerServiceName, "CloseBetting", DealerServiceServer.CloseBetting),
		unaryMethod(DealerServiceName, "ReopenBetting", DealerServiceServer.ReopenBetting),
		unaryMethod(DealerServiceName, "DealCard", DealerServiceServer.DealCard),
		unaryMethod(DealerServiceName, "CancelRound", DealerServiceServer.CancelRound),
		unaryMethod(DealerServiceName, "AdjustBalance", DealerServiceServer.AdjustBalance),
	},
	Metadata: "abrpc/dealer",
}

func RegisterDealerServiceServer(s grpc.ServiceRegistrar, srv DealerServiceServer) {
	s.RegisterService(&DealerService_ServiceDesc, srv)
}

type DealerServiceClient interface {
	CreateRound(ctx context.Context, in *CreateRoundRequest, opts ...grpc.CallOption) (*RoundResponse, error)
	StartBetting(ctx context.Context, in *StartBettingRequest, opts ...grpc.CallOption) (*RoundResponse, error)
	CloseBetting(ctx context.Context, in *CloseBettingRequest, opts ...grpc.CallOption) (*RoundResponse, error)
	ReopenBetting(ctx context.Context, in *ReopenBettingRequest, opts ...grpc.CallOption) (*RoundResponse, error)
	DealCard(ctx context.Context, in *DealCardRequest, opts ...grpc.CallOption) (*DealCardResponse, error)
	CancelRound(ctx context.Context, in *CancelRoundRequest, opts ...grpc.CallOption) (*RoundResponse, error)
	AdjustBalance(ctx context.Context, in *AdjustBalanceRequest, opts ...grpc.CallOption) (*AdjustBalanceResponse, error)
}

type dealerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDealerServiceClient(cc grpc.ClientConnInterface) DealerServiceClient {
	return &dealerServiceClient{cc}
}

func (c *dealerServiceClient) CreateRound(ctx context.Context, in *CreateRoundRequest, opts ...grpc.CallOption) (*RoundResponse, error) {
	return invoke[RoundResponse](ctx, c.cc, DealerService_CreateRound_FullMethodName, in, opts)
}

func (c *dealerServiceClient) StartBetting(ctx context.Context, in *StartBettingRequest, opts ...grpc.CallOption) (*RoundResponse, error) {
	return invoke[RoundResponse](ctx, c.cc, DealerService_StartBetting_FullMethodName, in, opts)
}

func (c *dealerServiceClient) CloseBetting(ctx context.Context, in *CloseBettingRequest, opts ...grpc.CallOption) (*RoundResponse, error) {
	return invoke[RoundResponse](ctx, c.cc, DealerService_CloseBetting_FullMethodName, in, opts)
}

func (c *dealerServiceClient) ReopenBetting(ctx context.Context, in *ReopenBettingRequest, opts ...grpc.CallOption) (*RoundResponse, error) {
	return invoke[RoundResponse](ctx, c.cc, DealerService_ReopenBetting_FullMethodName, in, opts)
}

func (c *dealerServiceClient) DealCard(ctx context.Context, in *DealCardRequest, opts ...grpc.CallOption) (*DealCardResponse, error) {
	return invoke[DealCardResponse](ctx, c.cc, DealerService_DealCard_FullMethodName, in, opts)
}

func (c *dealerServiceClient) CancelRound(ctx context.Context, in *CancelRoundRequest, opts ...grpc.CallOption) (*RoundResponse, error) {
	return invoke[RoundResponse](ctx, c.cc, DealerService_CancelRound_FullMethodName, in, opts)
}

func (c *dealerServiceClient) AdjustBalance(ctx context.Context, in *AdjustBalanceRequest, opts ...grpc.CallOption) (*AdjustBalanceResponse, error) {
	return invoke[AdjustBalanceResponse](ctx, c.cc, DealerService_AdjustBalance_FullMethodName, in, opts)
}
