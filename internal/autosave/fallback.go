package autosave

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"proposalsync/internal/durable"
)

// FallbackNamespace prefixes every durable key written by coordinators.
const FallbackNamespace = "proposalsync:autosave:"

// FallbackRecord is the local copy of the latest snapshot a coordinator tried
// to save. It is advisory: the coordinator never reads it back.
type FallbackRecord struct {
	Snapshot  json.RawMessage `json:"snapshot"`
	Timestamp time.Time       `json:"timestamp"`
}

func FallbackKey(documentKey string) string {
	return FallbackNamespace + documentKey
}

func writeFallback(ctx context.Context, store durable.Store, documentKey string, record FallbackRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal fallback record: %w", err)
	}
	if err := store.SetItem(ctx, FallbackKey(documentKey), string(payload)); err != nil {
		return fmt.Errorf("write fallback record: %w", err)
	}
	return nil
}

// LoadFallback reads the fallback record for documentKey.
func LoadFallback(ctx context.Context, store durable.Store, documentKey string) (FallbackRecord, bool, error) {
	raw, ok, err := store.GetItem(ctx, FallbackKey(documentKey))
	if err != nil {
		return FallbackRecord{}, false, fmt.Errorf("read fallback record: %w", err)
	}
	if !ok {
		return FallbackRecord{}, false, nil
	}
	var record FallbackRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return FallbackRecord{}, false, fmt.Errorf("decode fallback record: %w", err)
	}
	return record, true, nil
}

// DiscardFallback removes the fallback record for documentKey.
func DiscardFallback(ctx context.Context, store durable.Store, documentKey string) error {
	if err := store.RemoveItem(ctx, FallbackKey(documentKey)); err != nil {
		return fmt.Errorf("discard fallback record: %w", err)
	}
	return nil
}
