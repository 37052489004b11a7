package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/relayline/turnguard/engine/catalog"
	"github.com/relayline/turnguard/engine/orchestrator"
	"github.com/relayline/turnguard/engine/turn"
)

// Version is reported by ServerStatus.
const Version = "1.0.0"

// TurnServiceServer is the service contract. Payloads are structpb structs
// so callers in any language can speak to the engine without generated
// stubs; the field shapes are documented on the handler methods.
type TurnServiceServer interface {
	// HandleMessage processes one conversational turn.
	HandleMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// ListActions returns the action catalog.
	ListActions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// ServerStatus reports liveness and build information.
	ServerStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// TurnServer is the production TurnServiceServer backed by the orchestrator.
type TurnServer struct {
	engine    *orchestrator.Orchestrator
	catalog   *catalog.Catalog
	logger    Logger
	startedAt time.Time
}

// NewTurnServer creates the service implementation.
func NewTurnServer(engine *orchestrator.Orchestrator, cat *catalog.Catalog, logger Logger) *TurnServer {
	return &TurnServer{
		engine:    engine,
		catalog:   cat,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

// HandleMessage expects {conversation_id, tenant_id, message, history?:
// [{role, content}]} and returns the turn outcome.
func (s *TurnServer) HandleMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var request turn.Request
	if err := decodeStruct(req, &request); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if err := request.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	outcome, err := s.engine.HandleTurn(ctx, &request)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	s.logger.Debug("turn_handled",
		"turn_id", outcome.TurnID,
		"conversation_id", request.ConversationID,
		"reason_code", string(outcome.ReasonCode),
	)
	return encodeStruct(outcome)
}

// ListActions ignores its request payload and returns {tenant_id, actions:
// [spec...]}.
func (s *TurnServer) ListActions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return encodeStruct(map[string]any{
		"tenant_id": s.catalog.TenantID(),
		"actions":   s.catalog.Specs(),
	})
}

// ServerStatus reports uptime and version.
func (s *TurnServer) ServerStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return encodeStruct(map[string]any{
		"status":         "serving",
		"version":        Version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

var _ TurnServiceServer = (*TurnServer)(nil)

// decodeStruct maps a structpb payload onto a typed request.
func decodeStruct(in *structpb.Struct, out any) error {
	if in == nil {
		return fmt.Errorf("empty request")
	}
	raw, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// encodeStruct renders any JSON-encodable value as a structpb payload.
func encodeStruct(in any) (*structpb.Struct, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// =============================================================================
// SERVICE REGISTRATION
// =============================================================================

const serviceName = "turnguard.v1.TurnService"

// TurnServiceDesc is the hand-maintained service descriptor. All methods are
// unary with structpb.Struct payloads.
var TurnServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TurnServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HandleMessage", Handler: unaryHandler("HandleMessage", TurnServiceServer.HandleMessage)},
		{MethodName: "ListActions", Handler: unaryHandler("ListActions", TurnServiceServer.ListActions)},
		{MethodName: "ServerStatus", Handler: unaryHandler("ServerStatus", TurnServiceServer.ServerStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "turnguard/v1/turn.proto",
}

type unaryMethod func(TurnServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, method unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + serviceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(TurnServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return method(srv.(TurnServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterTurnServiceServer registers the service on a gRPC server.
func RegisterTurnServiceServer(s grpc.ServiceRegistrar, srv TurnServiceServer) {
	s.RegisterService(&TurnServiceDesc, srv)
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Serve builds a fully-interceptored gRPC server, registers the turn
// service, and serves on the given address until the listener fails or
// GracefulStop is called on the returned server.
func Serve(addr string, srv TurnServiceServer, logger Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	server := grpc.NewServer(ServerOptions(logger)...)
	RegisterTurnServiceServer(server, srv)

	logger.Info("grpc_server_listening", "addr", addr)
	go func() {
		if err := server.Serve(lis); err != nil {
			logger.Error("grpc_server_stopped", "error", err.Error())
		}
	}()
	return server, nil
}
