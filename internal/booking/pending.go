package booking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/teebox/internal/model"
	"github.com/hitoshi/teebox/internal/store"
)

// PendingBook は確定前の仮予約を1件だけストアに保持する。
type PendingBook struct {
	store store.Store
}

// NewPendingBook はPendingBookを生成する。
func NewPendingBook(st store.Store) *PendingBook {
	return &PendingBook{store: st}
}

// Load は保存済みの仮予約を返す。保存されていない場合はnilを返す。
func (b *PendingBook) Load(ctx context.Context) (*model.PendingHold, error) {
	raw, ok, err := b.store.Get(ctx, KeyPendingHold)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending reservation: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var hold model.PendingHold
	if err := json.Unmarshal([]byte(raw), &hold); err != nil {
		return nil, fmt.Errorf("failed to decode pending reservation: %w", err)
	}
	if hold.PendingReservationID == "" {
		return nil, nil
	}
	return &hold, nil
}

// Save は仮予約を保存する。既存の仮予約は上書きする。
func (b *PendingBook) Save(ctx context.Context, hold model.PendingHold) error {
	raw, err := json.Marshal(hold)
	if err != nil {
		return fmt.Errorf("failed to encode pending reservation: %w", err)
	}
	if err := b.store.Set(ctx, KeyPendingHold, string(raw)); err != nil {
		return fmt.Errorf("failed to save pending reservation: %w", err)
	}
	return nil
}

// Clear は保存済みの仮予約を削除する。
func (b *PendingBook) Clear(ctx context.Context) error {
	if err := b.store.Delete(ctx, KeyPendingHold); err != nil {
		return fmt.Errorf("failed to clear pending reservation: %w", err)
	}
	return nil
}
