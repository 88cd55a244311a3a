package cache

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"s5.dev/s5/cbor5"
)

// cborCodec lets the cache service exchange plain Go structs over
// gRPC without a .proto-generated message type: this module already
// standardizes on CBOR (cbor5) for every other wire format, so the
// cache daemon's local gRPC transport uses it too instead of
// introducing protobuf purely for one optional component.
type cborCodec struct{}

func (cborCodec) Marshal(v interface{}) ([]byte, error)      { return cbor5.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v interface{}) error { return cbor5.Unmarshal(data, v) }
func (cborCodec) Name() string                               { return "cbor" }

func init() {
	encoding.RegisterCodec(cborCodec{})
}

// GetRequest/GetResponse/SetRequest/SetResponse mirror registryrpc's
// wire shapes, so the cache's Get/Set map directly onto a
// registry.Transport implementation.
type GetRequest struct {
	KeyType uint8
	KeyData [32]byte
}

type GetResponse struct {
	Serialized []byte
	Error      string
}

type SetRequest struct {
	Serialized []byte
}

type SetResponse struct {
	Error string
}

const (
	serviceName    = "s5.registrycache.Cache"
	methodGet      = "/" + serviceName + "/Get"
	methodSet      = "/" + serviceName + "/Set"
)

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGet}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func setHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Set(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSet}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).Set(ctx, req.(*SetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-written equivalent of a protoc-generated
// _grpc.pb.go's ServiceDesc, since the cache protocol is simple enough
// (two unary methods) not to warrant a .proto/codegen step.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Set", Handler: setHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "s5/registryrpc/cache",
}

// Register registers s on gs, ready to be served with gs.Serve.
func Register(gs *grpc.Server, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}
