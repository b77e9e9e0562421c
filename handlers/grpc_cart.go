package handlers

import (
	"context"
	"errors"
	"log/slog"

	"jewellery-storefront/internal/apperr"
	"jewellery-storefront/internal/cart"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	cartDetailsService = "storefront.cart.v1.CartDetails"
	getCartDetails     = "/" + cartDetailsService + "/GetCartDetails"
)

// CartDetailsServer returns a user's freshly priced cart to internal callers. The
// request is the user id; the reply is the cart as a protobuf Struct.
type CartDetailsServer interface {
	GetCartDetails(ctx context.Context, userID *wrapperspb.StringValue) (*structpb.Struct, error)
}

var cartDetailsDesc = grpc.ServiceDesc{
	ServiceName: cartDetailsService,
	HandlerType: (*CartDetailsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCartDetails", Handler: getCartDetailsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cart_details",
}

func getCartDetailsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CartDetailsServer).GetCartDetails(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getCartDetails}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CartDetailsServer).GetCartDetails(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

type cartDetails struct {
	ledger *cart.Ledger
}

func NewCartDetailsService(ledger *cart.Ledger) CartDetailsServer {
	return &cartDetails{ledger: ledger}
}

func (s *cartDetails) GetCartDetails(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	c, err := s.ledger.Get(ctx, req.GetValue())
	if err != nil {
		return nil, mapError(err)
	}

	lines := make([]any, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, map[string]any{
			"product_id":     l.ProductID,
			"name":           l.Name,
			"sku":            l.SKU,
			"quantity":       l.Quantity,
			"price_snapshot": int64(l.PriceSnapshot),
			"line_total":     int64(l.LineTotal),
		})
	}
	out, err := structpb.NewStruct(map[string]any{
		"user_id":      c.UserID,
		"lines":        lines,
		"total_amount": int64(c.TotalAmount),
		"item_count":   c.ItemCount,
		"version":      c.Version,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode cart: %v", err)
	}
	return out, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, apperr.ErrInvalidState), errors.Is(err, apperr.ErrDegenerate):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	}
	slog.Error("cart details failed", slog.String("error", err.Error()))
	return status.Errorf(codes.Internal, "internal error: %v", err)
}

// NewGRPCServer registers the cart details service and the standard health service.
func NewGRPCServer(ledger *cart.Ledger) *grpc.Server {
	s := grpc.NewServer()
	s.RegisterService(&cartDetailsDesc, NewCartDetailsService(ledger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(cartDetailsService, grpc_health_v1.HealthCheckResponse_SERVING)
	return s
}

// CartDetailsClient calls the cart details service.
type CartDetailsClient struct {
	cc grpc.ClientConnInterface
}

func NewCartDetailsClient(cc grpc.ClientConnInterface) *CartDetailsClient {
	return &CartDetailsClient{cc: cc}
}

func (c *CartDetailsClient) GetCartDetails(ctx context.Context, userID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getCartDetails, wrapperspb.String(userID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
