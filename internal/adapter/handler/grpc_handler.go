package handler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/inventory-requests/internal/auth"
	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/core/service"
)

const (
	serviceName = "inventory.v1.InventoryRequestService"
	errorDomain = "inventory-requests"
)

type InventoryRequestServer interface {
	CreateRequest(ctx context.Context, in *CreateRequestBody) (*RequestResponse, error)
	ListPending(ctx context.Context, in *Empty) (*RequestList, error)
	ListMine(ctx context.Context, in *Empty) (*RequestList, error)
	ProcessRequest(ctx context.Context, in *ProcessRequestMessage) (*RequestResponse, error)
}

// unary adapts a typed method to grpc.MethodDesc, the way generated stubs do.
func unary[Req any, Resp any](name string, call func(InventoryRequestServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InventoryRequestServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(InventoryRequestServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var inventoryRequestServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*InventoryRequestServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateRequest", InventoryRequestServer.CreateRequest),
		unary("ListPending", InventoryRequestServer.ListPending),
		unary("ListMine", InventoryRequestServer.ListMine),
		unary("ProcessRequest", InventoryRequestServer.ProcessRequest),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory_requests",
}

func RegisterInventoryRequestServer(s grpc.ServiceRegistrar, srv InventoryRequestServer) {
	s.RegisterService(&inventoryRequestServiceDesc, srv)
}

type GRPCHandler struct {
	requests *service.RequestService
	logger   *zap.Logger
}

func NewGRPCHandler(requests *service.RequestService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{requests: requests, logger: logger.Named("grpc")}
}

func (h *GRPCHandler) CreateRequest(ctx context.Context, in *CreateRequestBody) (*RequestResponse, error) {
	id, _ := IdentityFrom(ctx)
	req, err := h.requests.CreateRequest(ctx, in.toInput(id.UserID))
	if err != nil {
		return nil, h.toStatus(err)
	}

	resp := toRequestResponse(*req)
	return &resp, nil
}

func (h *GRPCHandler) ListPending(ctx context.Context, _ *Empty) (*RequestList, error) {
	if err := requireAdminCtx(ctx); err != nil {
		return nil, h.toStatus(err)
	}

	views, err := h.requests.ListPending(ctx)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &RequestList{Requests: toRequestViews(views)}, nil
}

func (h *GRPCHandler) ListMine(ctx context.Context, _ *Empty) (*RequestList, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return nil, h.toStatus(fmt.Errorf("%w: authentication required", domain.ErrUnauthorized))
	}

	views, err := h.requests.ListForRequester(ctx, id.UserID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &RequestList{Requests: toRequestViews(views)}, nil
}

func (h *GRPCHandler) ProcessRequest(ctx context.Context, in *ProcessRequestMessage) (*RequestResponse, error) {
	if err := requireAdminCtx(ctx); err != nil {
		return nil, h.toStatus(err)
	}

	id, _ := IdentityFrom(ctx)
	processed, err := h.requests.Process(ctx, in.RequestID, domain.Action(upper(in.Action)), in.RejectReason, id.UserID)
	if err != nil {
		return nil, h.toStatus(err)
	}

	resp := toRequestResponse(*processed)
	return &resp, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	kind := classify(err)
	msg := err.Error()
	if kind.code == codes.Internal {
		h.logger.Error("rpc failed", zap.Error(err))
		msg = "internal error"
	}
	return withReason(status.New(kind.code, msg), kind.name).Err()
}

// withReason attaches the error kind so clients can tell apart kinds that
// share a status code.
func withReason(st *status.Status, reason string) *status.Status {
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: errorDomain})
	if err != nil {
		return st
	}
	return detailed
}

// ErrorReason returns the error kind carried by a status error, or "".
func ErrorReason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == errorDomain {
			return info.Reason
		}
	}
	return ""
}

func requireAdminCtx(ctx context.Context) error {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: authentication required", domain.ErrUnauthorized)
	}
	if !id.IsAdmin {
		return fmt.Errorf("%w: administrator role required", domain.ErrForbidden)
	}
	return nil
}

// AuthInterceptor resolves the "authorization" metadata into an identity.
// Calls without the header proceed anonymously.
func AuthInterceptor(tokens *auth.Tokens) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+serviceName+"/") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return handler(ctx, req)
		}

		raw, ok := auth.BearerToken(values[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "expected a bearer token")
		}
		id, err := tokens.Parse(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithIdentity(ctx, id), req)
	}
}

// GRPCClient is a thin client for the JSON-coded service.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) invoke(ctx context.Context, method string, in, out interface{}, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(codecName))
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *GRPCClient) CreateRequest(ctx context.Context, in *CreateRequestBody, opts ...grpc.CallOption) (*RequestResponse, error) {
	out := new(RequestResponse)
	if err := c.invoke(ctx, "CreateRequest", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) ListPending(ctx context.Context, opts ...grpc.CallOption) (*RequestList, error) {
	out := new(RequestList)
	if err := c.invoke(ctx, "ListPending", &Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) ListMine(ctx context.Context, opts ...grpc.CallOption) (*RequestList, error) {
	out := new(RequestList)
	if err := c.invoke(ctx, "ListMine", &Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GRPCClient) ProcessRequest(ctx context.Context, in *ProcessRequestMessage, opts ...grpc.CallOption) (*RequestResponse, error) {
	out := new(RequestResponse)
	if err := c.invoke(ctx, "ProcessRequest", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WithBearer attaches a token to an outgoing call context.
func WithBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}
