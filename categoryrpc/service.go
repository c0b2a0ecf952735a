// Package categoryrpc is the category lookup RPC between the products
// and categories services.
package categoryrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

const (
	ServiceName = "category.CategoryService"

	getCategoryMethod        = "/" + ServiceName + "/GetCategory"
	getCategoriesBatchMethod = "/" + ServiceName + "/GetCategoriesBatch"

	// DefaultMaxMessageSize bounds both directions
	DefaultMaxMessageSize = 10 * 1024 * 1024
)

type GetCategoryRequest struct {
	ID string `json:"id"`
}

type GetCategoriesBatchRequest struct {
	IDs []string `json:"ids"`
}

type CategoriesBatchResponse struct {
	Categories []models.Category `json:"categories"`
}

// CategoryServer is implemented by the categories service
type CategoryServer interface {
	GetCategory(ctx context.Context, req *GetCategoryRequest) (*models.Category, error)
	GetCategoriesBatch(ctx context.Context, req *GetCategoriesBatchRequest) (*CategoriesBatchResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CategoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCategory", Handler: getCategoryHandler},
		{MethodName: "GetCategoriesBatch", Handler: getCategoriesBatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "category.proto",
}

// RegisterCategoryServer attaches srv to s
func RegisterCategoryServer(s grpc.ServiceRegistrar, srv CategoryServer) {
	s.RegisterService(&serviceDesc, srv)
}

func getCategoryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetCategoryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CategoryServer).GetCategory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getCategoryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CategoryServer).GetCategory(ctx, req.(*GetCategoryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getCategoriesBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetCategoriesBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CategoryServer).GetCategoriesBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getCategoriesBatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CategoryServer).GetCategoriesBatch(ctx, req.(*GetCategoriesBatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}
