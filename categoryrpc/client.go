package categoryrpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

// Client calls the categories service. It has no timeout or fallback of
// its own; callers bound it through ctx.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a lazily connecting client for cfg.Addr. Extra dial
// options are appended, which lets tests supply an in-memory dialer.
func NewClient(cfg config.CategoryConfig, opts ...grpc.DialOption) (*Client, error) {
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(maxSize),
			grpc.MaxCallSendMsgSize(maxSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create category client for %s: %w", cfg.Addr, err)
	}
	return &Client{conn: conn}, nil
}

// GetCategory returns the category, or nil when the service reports it missing
func (c *Client) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	out := new(models.Category)
	err := c.conn.Invoke(ctx, getCategoryMethod, &GetCategoryRequest{ID: id}, out)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// GetCategoriesBatch returns the categories found among ids
func (c *Client) GetCategoriesBatch(ctx context.Context, ids []string) ([]models.Category, error) {
	out := new(CategoriesBatchResponse)
	if err := c.conn.Invoke(ctx, getCategoriesBatchMethod, &GetCategoriesBatchRequest{IDs: ids}, out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
