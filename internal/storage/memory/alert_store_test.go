package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage"
)

func testAlert(id string, symbolID int64) *domain.Alert {
	return &domain.Alert{
		ID:        id,
		SymbolID:  symbolID,
		Condition: domain.CondPriceCrossUp,
		Threshold: 100,
		Mode:      domain.TriggerOncePerBar,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
}

func TestAlertStore_InsertAndGet(t *testing.T) {
	store := NewAlertStore()
	ctx := context.Background()

	a := testAlert("a1", 1)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Condition != domain.CondPriceCrossUp {
		t.Errorf("Condition mismatch: got %s", got.Condition)
	}
}

func TestAlertStore_DuplicateKey(t *testing.T) {
	store := NewAlertStore()
	ctx := context.Background()

	a := testAlert("a1", 1)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := store.Insert(ctx, a); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestAlertStore_GetActiveBySymbol(t *testing.T) {
	store := NewAlertStore()
	ctx := context.Background()

	active := testAlert("a1", 1)
	inactive := testAlert("a2", 1)
	inactive.IsActive = false
	otherSymbol := testAlert("a3", 2)

	for _, a := range []*domain.Alert{active, inactive, otherSymbol} {
		if err := store.Insert(ctx, a); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetActiveBySymbol(ctx, 1)
	if err != nil {
		t.Fatalf("GetActiveBySymbol failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Errorf("expected only a1, got %v", got)
	}
}

func TestAlertStore_UpdateAdvancesBookkeeping(t *testing.T) {
	store := NewAlertStore()
	ctx := context.Background()

	a := testAlert("a1", 1)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	now := time.Now().UTC()
	a.LastTriggeredAt = &now
	a.LastTriggeredBarTs = &now
	if err := store.Update(ctx, a); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(now) {
		t.Errorf("LastTriggeredAt not persisted: %v", got.LastTriggeredAt)
	}
}

func TestAlertStore_Deactivate(t *testing.T) {
	store := NewAlertStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testAlert("a1", 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Deactivate(ctx, "a1"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	got, err := store.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.IsActive {
		t.Error("alert still active after Deactivate")
	}

	if err := store.Deactivate(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
