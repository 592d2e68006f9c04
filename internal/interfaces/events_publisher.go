package interfaces

import "context"

// EventPublisher emits domain events after a ledger commit. Publishing is
// best-effort and never part of the atomic unit; key groups events for
// per-account ordering.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}
