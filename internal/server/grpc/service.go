package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const RecordServiceName = "counselkeeper.RecordService"

// RecordServer is the handler contract registered under RecordServiceName.
type RecordServer interface {
	CreateRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReadRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRecords(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportAuditDay(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// FullMethod returns the gRPC path of a RecordService method.
func FullMethod(method string) string {
	return "/" + RecordServiceName + "/" + method
}

func unaryHandler(method string, call func(RecordServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RecordServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RecordServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var RecordServiceDesc = grpc.ServiceDesc{
	ServiceName: RecordServiceName,
	HandlerType: (*RecordServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Create", RecordServer.CreateRecord),
		unaryHandler("Read", RecordServer.ReadRecord),
		unaryHandler("Update", RecordServer.UpdateRecord),
		unaryHandler("Delete", RecordServer.DeleteRecord),
		unaryHandler("List", RecordServer.ListRecords),
		unaryHandler("ExportAuditDay", RecordServer.ExportAuditDay),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "counselkeeper/record_service",
}
