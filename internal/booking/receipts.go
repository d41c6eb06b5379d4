package booking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/teebox/internal/model"
	"github.com/hitoshi/teebox/internal/store"
)

// ReceiptBook は確定済み予約の控えをストアに保持する。
type ReceiptBook struct {
	store store.Store
}

// NewReceiptBook はReceiptBookを生成する。
func NewReceiptBook(st store.Store) *ReceiptBook {
	return &ReceiptBook{store: st}
}

// List は保存済みの控えを追加順に返す。未保存の場合は空スライスを返す。
func (b *ReceiptBook) List(ctx context.Context) ([]model.BookingReceipt, error) {
	raw, ok, err := b.store.Get(ctx, KeyUserBookings)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}
	if !ok || raw == "" {
		return []model.BookingReceipt{}, nil
	}

	var receipts []model.BookingReceipt
	if err := json.Unmarshal([]byte(raw), &receipts); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}
	if receipts == nil {
		receipts = []model.BookingReceipt{}
	}
	return receipts, nil
}

// Add は控えを末尾に追加する。
func (b *ReceiptBook) Add(ctx context.Context, receipt model.BookingReceipt) error {
	receipts, err := b.List(ctx)
	if err != nil {
		return err
	}
	receipts = append(receipts, receipt)

	raw, err := json.Marshal(receipts)
	if err != nil {
		return fmt.Errorf("failed to encode bookings: %w", err)
	}
	if err := b.store.Set(ctx, KeyUserBookings, string(raw)); err != nil {
		return fmt.Errorf("failed to save bookings: %w", err)
	}
	return nil
}
