package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"costbook/internal/core"
	"costbook/internal/storage"
)

type fakePublisher struct {
	events []int64
	err    error
}

func (f *fakePublisher) PublishCostEvent(_ context.Context, id int64, _, _ int) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, id)
	return nil
}

func openTestStore(t *testing.T) *storage.LedgerStore {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "costs.db"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordCostPublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewCostService(openTestStore(t), pub)

	cost, err := svc.RecordCost(context.Background(), core.NewCost{
		Sum: 12, Currency: core.GBP, Category: core.Leisure,
	})
	if err != nil {
		t.Fatalf("RecordCost() error = %v", err)
	}
	if len(pub.events) != 1 || pub.events[0] != cost.ID {
		t.Errorf("published events = %v, want [%d]", pub.events, cost.ID)
	}
}

func TestRecordCostWithoutPublisher(t *testing.T) {
	svc := NewCostService(openTestStore(t), nil)

	if _, err := svc.RecordCost(context.Background(), core.NewCost{
		Sum: 5, Currency: core.USD, Category: core.Food,
	}); err != nil {
		t.Fatalf("RecordCost() without publisher error = %v", err)
	}
}

func TestRecordCostPublishFailureDoesNotFail(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewCostService(openTestStore(t), pub)

	if _, err := svc.RecordCost(context.Background(), core.NewCost{
		Sum: 5, Currency: core.USD, Category: core.Food,
	}); err != nil {
		t.Fatalf("RecordCost() should succeed when only publishing fails, got %v", err)
	}
}

func TestRecordCostInvalidDoesNotPublish(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewCostService(openTestStore(t), pub)

	if _, err := svc.RecordCost(context.Background(), core.NewCost{}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(pub.events) != 0 {
		t.Errorf("published events = %v, want none", pub.events)
	}
}
