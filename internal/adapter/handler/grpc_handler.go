package handler

import (
	"context"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/service"
)

const (
	serviceName = "pharmacy.v1.DispatchService"

	// ErrorDomain is the ErrorInfo domain attached to failed calls.
	ErrorDomain = "pharmacy.v1"

	MetadataActorID   = "x-actor-id"
	MetadataActorRole = "x-actor-role"

	trailerErrorKind = "x-error-kind"
	trailerErrorCode = "x-error-code"
)

// DispatchServiceServer is the server API of pharmacy.v1.DispatchService.
type DispatchServiceServer interface {
	IntakeByRFID(context.Context, *IntakeRequest) (*IntakeResponse, error)
	WithdrawByRFID(context.Context, *WithdrawRequest) (*WithdrawResponse, error)
	CreatePrescription(context.Context, *CreatePrescriptionRequest) (*PrescriptionResponse, error)
	CancelPrescription(context.Context, *CancelPrescriptionRequest) (*PrescriptionResponse, error)
	DispatchItem(context.Context, *DispatchRequest) (*DispatchResponse, error)
}

type GRPCHandler struct {
	inventory *service.InventoryService
}

func NewGRPCHandler(inventory *service.InventoryService) *GRPCHandler {
	return &GRPCHandler{inventory: inventory}
}

func (h *GRPCHandler) IntakeByRFID(ctx context.Context, req *IntakeRequest) (*IntakeResponse, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	in, err := req.toService()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := h.inventory.IntakeByRFID(ctx, actor, in)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return newIntakeResponse(result), nil
}

func (h *GRPCHandler) WithdrawByRFID(ctx context.Context, req *WithdrawRequest) (*WithdrawResponse, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	result, err := h.inventory.WithdrawByRFID(ctx, actor, req.toService())
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return newWithdrawResponse(result), nil
}

func (h *GRPCHandler) CreatePrescription(ctx context.Context, req *CreatePrescriptionRequest) (*PrescriptionResponse, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	in, err := req.toService()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	prescription, err := h.inventory.CreatePrescription(ctx, actor, in)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return &PrescriptionResponse{Success: true, Prescription: newPrescriptionView(prescription)}, nil
}

func (h *GRPCHandler) CancelPrescription(ctx context.Context, req *CancelPrescriptionRequest) (*PrescriptionResponse, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	prescription, err := h.inventory.CancelPrescription(ctx, actor, req.PrescriptionID)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return &PrescriptionResponse{Success: true, Prescription: newPrescriptionView(prescription)}, nil
}

func (h *GRPCHandler) DispatchItem(ctx context.Context, req *DispatchRequest) (*DispatchResponse, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	result, err := h.inventory.DispatchItem(ctx, actor, req.toService())
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return newDispatchResponse(result), nil
}

func actorFromMetadata(ctx context.Context) (domain.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	ids, roles := md.Get(MetadataActorID), md.Get(MetadataActorRole)
	if len(ids) == 0 || len(roles) == 0 {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "missing actor metadata")
	}

	id, err := strconv.ParseInt(ids[0], 10, 64)
	if err != nil {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "invalid actor id")
	}
	actor, err := newActor(id, roles[0])
	if err != nil {
		return domain.Actor{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return actor, nil
}

// grpcError maps a domain error onto a status code. Kind and code go in the
// trailer; the numeric context travels as an ErrorInfo detail.
func grpcError(ctx context.Context, err error) error {
	de, ok := domain.AsError(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}
	grpc.SetTrailer(ctx, metadata.Pairs(
		trailerErrorKind, string(de.Kind),
		trailerErrorCode, string(de.Code),
	))

	st := status.New(grpcCode(de.Kind), de.Error())
	withInfo, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(de.Code),
		Domain:   ErrorDomain,
		Metadata: errorMetadata(de),
	})
	if err != nil {
		return st.Err()
	}
	return withInfo.Err()
}

func RegisterDispatchServiceServer(s grpc.ServiceRegistrar, srv DispatchServiceServer) {
	s.RegisterService(&dispatchServiceDesc, srv)
}

var dispatchServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DispatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IntakeByRFID", Handler: unaryHandler("IntakeByRFID", DispatchServiceServer.IntakeByRFID)},
		{MethodName: "WithdrawByRFID", Handler: unaryHandler("WithdrawByRFID", DispatchServiceServer.WithdrawByRFID)},
		{MethodName: "CreatePrescription", Handler: unaryHandler("CreatePrescription", DispatchServiceServer.CreatePrescription)},
		{MethodName: "CancelPrescription", Handler: unaryHandler("CancelPrescription", DispatchServiceServer.CancelPrescription)},
		{MethodName: "DispatchItem", Handler: unaryHandler("DispatchItem", DispatchServiceServer.DispatchItem)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pharmacy/v1/dispatch.proto",
}

func unaryHandler[Req, Resp any](method string, call func(DispatchServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DispatchServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DispatchServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// DispatchServiceClient calls pharmacy.v1.DispatchService over the JSON
// codec. The caller's identity travels in outgoing metadata, see
// WithActor.
type DispatchServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDispatchServiceClient(cc grpc.ClientConnInterface) *DispatchServiceClient {
	return &DispatchServiceClient{cc: cc}
}

// WithActor attaches the actor metadata the server expects.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		MetadataActorID, strconv.FormatInt(actor.ID, 10),
		MetadataActorRole, string(actor.Role),
	)
}

func (c *DispatchServiceClient) IntakeByRFID(ctx context.Context, in *IntakeRequest, opts ...grpc.CallOption) (*IntakeResponse, error) {
	return invoke[IntakeResponse](ctx, c.cc, "IntakeByRFID", in, opts)
}

func (c *DispatchServiceClient) WithdrawByRFID(ctx context.Context, in *WithdrawRequest, opts ...grpc.CallOption) (*WithdrawResponse, error) {
	return invoke[WithdrawResponse](ctx, c.cc, "WithdrawByRFID", in, opts)
}

func (c *DispatchServiceClient) CreatePrescription(ctx context.Context, in *CreatePrescriptionRequest, opts ...grpc.CallOption) (*PrescriptionResponse, error) {
	return invoke[PrescriptionResponse](ctx, c.cc, "CreatePrescription", in, opts)
}

func (c *DispatchServiceClient) CancelPrescription(ctx context.Context, in *CancelPrescriptionRequest, opts ...grpc.CallOption) (*PrescriptionResponse, error) {
	return invoke[PrescriptionResponse](ctx, c.cc, "CancelPrescription", in, opts)
}

func (c *DispatchServiceClient) DispatchItem(ctx context.Context, in *DispatchRequest, opts ...grpc.CallOption) (*DispatchResponse, error) {
	return invoke[DispatchResponse](ctx, c.cc, "DispatchItem", in, opts)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ErrorCode reads the domain error code from a call's trailer.
// ErrorInfo extracts the structured detail of a failed call, or nil.
func ErrorInfo(err error) *errdetails.ErrorInfo {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info
		}
	}
	return nil
}

func ErrorCode(trailer metadata.MD) domain.Code {
	if v := trailer.Get(trailerErrorCode); len(v) > 0 {
		return domain.Code(v[0])
	}
	return ""
}
