package events

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-reservations/internal/logger"

	kafkago "github.com/segmentio/kafka-go"
)

// ConfigChanged is published by the back office when prices or add-on settings change.
type ConfigChanged struct {
	Scope     string `json:"scope"`
	EventType string `json:"event_type,omitempty"`
}

// Invalidator is satisfied by *pricing.CachedSource.
type Invalidator interface {
	Invalidate(ctx context.Context, eventType string) error
}

// PricingInvalidation returns a consumer handler that drops cached price tables.
// Messages for other scopes are ignored; an empty scope counts as pricing.
func PricingInvalidation(cache Invalidator, log *logger.Logger) func(ctx context.Context, msg kafkago.Message) error {
	return func(ctx context.Context, msg kafkago.Message) error {
		var ev ConfigChanged
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return fmt.Errorf("decode config change: %w", err)
		}
		if ev.Scope != "" && ev.Scope != "pricing" {
			return nil
		}
		if err := cache.Invalidate(ctx, ev.EventType); err != nil {
			return fmt.Errorf("invalidate pricing for %q: %w", ev.EventType, err)
		}
		target := ev.EventType
		if target == "" {
			target = "all event types"
		}
		log.Info("PRICING", fmt.Sprintf("Pricing cache invalidated for %s", target))
		return nil
	}
}
