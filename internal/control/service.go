// Package control implements the gRPC administrative surface: ListRooms,
// ListSymbols, AddSymbol, RemoveSymbol and Health, hand-registered against
// google.golang.org/grpc without a .proto/.pb.go pipeline. Requests and
// responses travel as JSON via jsonCodec rather than protobuf wire encoding.
package control

import (
	"context"

	"marketfeed/internal/broadcaster"
	"marketfeed/internal/session"

	"google.golang.org/grpc"
)

// BroadcasterView is the read surface the control plane needs from the
// Broadcaster.
type BroadcasterView interface {
	Stats() broadcaster.Stats
}

// Service implements the control plane's five operations. All mutation
// paths go through session.SymbolAllowList, the same mutex-guarded set the
// Session Manager reads from, so runtime symbol changes never cause a data
// race with a concurrent subscribe.
type Service struct {
	bcast    BroadcasterView
	sessions *session.Manager
	symbols  *session.SymbolAllowList
}

// NewService builds a control plane Service.
func NewService(bcast BroadcasterView, sessions *session.Manager, symbols *session.SymbolAllowList) *Service {
	return &Service{bcast: bcast, sessions: sessions, symbols: symbols}
}

// ListRooms returns every active broadcast room.
func (s *Service) ListRooms(ctx context.Context, _ *Empty) (*ListRoomsResponse, error) {
	stats := s.bcast.Stats()
	rooms := make([]RoomInfo, 0, len(stats.Rooms))
	for _, r := range stats.Rooms {
		var lastMS int64
		if !r.LastBroadcastAt.IsZero() {
			lastMS = r.LastBroadcastAt.UnixMilli()
		}
		rooms = append(rooms, RoomInfo{
			Key:             r.Key,
			ClientCount:     r.ClientCount,
			HasCandle:       r.HasCandle,
			LastBroadcastMS: lastMS,
		})
	}
	return &ListRoomsResponse{Rooms: rooms}, nil
}

// ListSymbols returns the current supported-symbol allow-list.
func (s *Service) ListSymbols(ctx context.Context, _ *Empty) (*ListSymbolsResponse, error) {
	return &ListSymbolsResponse{Symbols: s.symbols.List()}, nil
}

// AddSymbol adds a symbol to the runtime allow-list.
func (s *Service) AddSymbol(ctx context.Context, req *SymbolRequest) (*MutateResponse, error) {
	if req.Symbol == "" {
		return &MutateResponse{Success: false, Message: "symbol is required"}, nil
	}
	s.symbols.Add(req.Symbol)
	return &MutateResponse{Success: true, Message: "added " + req.Symbol}, nil
}

// RemoveSymbol removes a symbol from the runtime allow-list.
func (s *Service) RemoveSymbol(ctx context.Context, req *SymbolRequest) (*MutateResponse, error) {
	if req.Symbol == "" {
		return &MutateResponse{Success: false, Message: "symbol is required"}, nil
	}
	s.symbols.Remove(req.Symbol)
	return &MutateResponse{Success: true, Message: "removed " + req.Symbol}, nil
}

// Health mirrors GET /health for callers that only speak gRPC.
func (s *Service) Health(ctx context.Context, _ *Empty) (*HealthResponse, error) {
	return &HealthResponse{Status: "OK", Connections: s.sessions.SessionCount()}, nil
}

func listRoomsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).ListRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListRooms"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).ListRooms(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listSymbolsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).ListSymbols(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListSymbols"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).ListSymbols(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func addSymbolHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SymbolRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).AddSymbol(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/AddSymbol"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).AddSymbol(ctx, req.(*SymbolRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func removeSymbolHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SymbolRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).RemoveSymbol(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RemoveSymbol"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).RemoveSymbol(ctx, req.(*SymbolRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Health"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).Health(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "marketfeed.control.v1.Control"

// serviceDesc is the hand-rolled grpc.ServiceDesc that stands in for
// generated protoc-gen-go-grpc output.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRooms", Handler: listRoomsHandler},
		{MethodName: "ListSymbols", Handler: listSymbolsHandler},
		{MethodName: "AddSymbol", Handler: addSymbolHandler},
		{MethodName: "RemoveSymbol", Handler: removeSymbolHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Metadata: "control.proto",
}

// Register attaches Service to a *grpc.Server. Callers must construct the
// server with grpc.ForceServerCodec(jsonCodec{}) so the hand-rolled
// messages above decode correctly.
func Register(s *grpc.Server, svc *Service) {
	s.RegisterService(&serviceDesc, svc)
}
