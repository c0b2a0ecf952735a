// Package provisioning creates the remote user profile that must accompany
// every new auth account. Exactly one strategy is active per deployment.
package provisioning

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/events"
)

// ProfileRequest is what the users service needs to create a profile
type ProfileRequest struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	FullName *string `json:"fullName,omitempty"`
}

// Strategy provisions a profile. A returned error means the profile does
// not exist and the caller must compensate.
type Strategy interface {
	Name() string
	Provision(ctx context.Context, req ProfileRequest) error
}

// New builds the strategy selected by cfg.Strategy
func New(cfg config.ProvisioningConfig, ec config.EventsConfig, publisher events.Publisher, log *zap.Logger) (Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyHTTP:
		return NewHTTPStrategy(cfg.HTTP, http.DefaultTransport, log), nil
	case config.StrategyEvent:
		if publisher == nil {
			return nil, fmt.Errorf("event strategy needs a publisher")
		}
		return NewEventStrategy(publisher, ec.Exchange, ec.RegisteredKey, log), nil
	default:
		return nil, fmt.Errorf("unknown provisioning strategy %q", cfg.Strategy)
	}
}
