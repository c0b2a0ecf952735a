package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
)

const defaultHTTPTimeout = 5 * time.Second

var ErrProvisioningFailed = errors.New("profile provisioning failed")

// HTTPStrategy creates the profile synchronously with POST {base}/profiles.
// Any transport error, timeout or non-2xx answer is a failure.
type HTTPStrategy struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPStrategy(cfg config.HTTPProvisioningConfig, transport http.RoundTripper, log *zap.Logger) *HTTPStrategy {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPStrategy{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		client:  &http.Client{Transport: transport, Timeout: timeout},
		log:     logger.OrNop(log),
	}
}

func (s *HTTPStrategy) Name() string { return config.StrategyHTTP }

func (s *HTTPStrategy) Provision(ctx context.Context, req ProfileRequest) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrProvisioningFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/profiles", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrProvisioningFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id := logger.RequestIDFromContext(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// the account id is freshly minted, so even 409 means the profile the
	// account needs was not created by this call
	s.log.Warn("Users service rejected profile",
		zap.String("user_id", req.ID),
		zap.Int("status", resp.StatusCode),
	)
	return fmt.Errorf("%w: users service answered %d", ErrProvisioningFailed, resp.StatusCode)
}
