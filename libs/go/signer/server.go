package signer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ThresholdSignerServer is the server side of the signing service.
type ThresholdSignerServer interface {
	Sign(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterThresholdSignerServer registers srv on s.
func RegisterThresholdSignerServer(s grpc.ServiceRegistrar, srv ThresholdSignerServer) {
	s.RegisterService(&ThresholdSignerServiceDesc, srv)
}

func signHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ThresholdSignerServer).Sign(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SignMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ThresholdSignerServer).Sign(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ThresholdSignerServiceDesc describes the signing service.
var ThresholdSignerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ThresholdSignerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sign", Handler: signHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "signing/v1/signer.proto",
}

// Serve exposes any ThresholdSigner as a gRPC server, for signing-node
// simulators and tests.
func Serve(signer ThresholdSigner) ThresholdSignerServer {
	return &adapter{signer: signer}
}

type adapter struct {
	signer ThresholdSigner
}

func (a *adapter) Sign(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	raw, err := a.signer.Sign(ctx, req)
	if err != nil {
		return nil, status.Error(codes.Aborted, err.Error())
	}
	out, err := EncodeResponse(raw)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
