package services

import (
	"context"
	"fmt"
	"log/slog"

	"costbook/internal/core"
	"costbook/internal/storage"
)

// CostEventPublisher forwards cost-recorded events to a broker. Satisfied
// by *amqp.Client; nil disables publishing.
type CostEventPublisher interface {
	PublishCostEvent(ctx context.Context, id int64, year, month int) error
}

// CostService orchestrates cost recording: persist locally first, then
// publish the change event for remote consumers.
type CostService struct {
	store     *storage.LedgerStore
	publisher CostEventPublisher
}

func NewCostService(store *storage.LedgerStore, publisher CostEventPublisher) *CostService {
	return &CostService{
		store:     store,
		publisher: publisher,
	}
}

// RecordCost appends a cost to the local ledger and publishes a change
// event. Publishing is best effort: the cost is already durable locally,
// so a broker failure is logged, not surfaced.
func (s *CostService) RecordCost(ctx context.Context, n core.NewCost) (core.Cost, error) {
	cost, err := s.store.InsertCost(ctx, n)
	if err != nil {
		return core.Cost{}, fmt.Errorf("record cost: %w", err)
	}

	if s.publisher == nil {
		return cost, nil
	}

	if err := s.publisher.PublishCostEvent(ctx, cost.ID, cost.Date.Year, cost.Date.Month); err != nil {
		slog.ErrorContext(ctx, "Failed to publish cost event",
			"id", cost.ID, "error", err)
		// Don't fail the request - the cost is saved locally
	}

	return cost, nil
}

func (s *CostService) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}
