package categoryrpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

// CategoryFinder is the read side of the category store
type CategoryFinder interface {
	FindByID(ctx context.Context, id string) (*models.Category, bool, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Category, error)
}

// Server answers category lookups from the categories service's store
type Server struct {
	finder CategoryFinder
}

func NewServer(finder CategoryFinder) *Server {
	return &Server{finder: finder}
}

func (s *Server) GetCategory(ctx context.Context, req *GetCategoryRequest) (*models.Category, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	category, ok, err := s.finder.FindByID(ctx, req.ID)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Category with id %s not found", req.ID)
	}
	return category, nil
}

// GetCategoriesBatch returns the categories that exist; unknown ids are
// simply absent from the response.
func (s *Server) GetCategoriesBatch(ctx context.Context, req *GetCategoriesBatchRequest) (*CategoriesBatchResponse, error) {
	categories, err := s.finder.FindByIDs(ctx, req.IDs)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &CategoriesBatchResponse{Categories: categories}, nil
}

// NewGRPCServer builds a server with the message limits, keepalive policy
// and logging/recovery interceptors used by the category RPC.
func NewGRPCServer(maxMessageSize int, log *zap.Logger) *grpc.Server {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	log = logger.OrNop(log)

	return grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(recoveryInterceptor(log), loggingInterceptor(log)),
	)
}

func loggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		}
		switch status.Code(err) {
		case codes.OK, codes.NotFound, codes.InvalidArgument:
			log.Debug("gRPC request", fields...)
		default:
			log.Error("gRPC request failed", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

func recoveryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Panic recovered in gRPC handler",
					zap.String("method", info.FullMethod),
					zap.String("panic", fmt.Sprint(r)),
					zap.Stack("stack"),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
