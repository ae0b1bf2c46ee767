// ./internal/state/snapshot_store.go
package state

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/types"
)

// SaveReserveSnapshot upserts one reserve snapshot. The unique
// (exchange, block) constraint mirrors the in-memory history's
// one-snapshot-per-block rule: a re-entry in the same block overwrites.
func SaveReserveSnapshot(exchange string, snapshot types.ReserveSnapshot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO reserve_snapshots (
			exchange, block_number, snapshot_timestamp,
			quote_asset_reserve, base_asset_reserve, cumulative_notional
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (exchange, block_number) DO UPDATE SET
			snapshot_timestamp = EXCLUDED.snapshot_timestamp,
			quote_asset_reserve = EXCLUDED.quote_asset_reserve,
			base_asset_reserve = EXCLUDED.base_asset_reserve,
			cumulative_notional = EXCLUDED.cumulative_notional;
	`
	_, err := DB.Exec(
		query,
		exchange, snapshot.BlockNumber, snapshot.Timestamp,
		snapshot.Quote.String(), snapshot.Base.String(), snapshot.CumulativeNotional.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save reserve snapshot: %w", err)
	}

	log.Debug().
		Str("exchange", exchange).
		Int64("block_number", snapshot.BlockNumber).
		Msg("Reserve snapshot saved to database")
	return nil
}

// CountReserveSnapshots returns the number of archived snapshots for an
// exchange.
func CountReserveSnapshots(exchange string) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var count int64
	err := DB.QueryRow(`SELECT COUNT(*) FROM reserve_snapshots WHERE exchange = $1;`, exchange).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reserve snapshots: %w", err)
	}
	return count, nil
}

// SnapshotArchiver is an event sink persisting every appended reserve
// snapshot; non-snapshot events pass through untouched.
type SnapshotArchiver struct{}

// NewSnapshotArchiver creates a sink writing to the global DB pool.
func NewSnapshotArchiver() *SnapshotArchiver {
	return &SnapshotArchiver{}
}

func (a *SnapshotArchiver) Publish(env events.Envelope) error {
	snap, ok := env.Payload.(events.ReserveSnapshotted)
	if !ok {
		return nil
	}
	err := SaveReserveSnapshot(snap.Exchange, types.ReserveSnapshot{
		Reserves: types.Reserves{
			Quote: snap.QuoteAssetReserve,
			Base:  snap.BaseAssetReserve,
		},
		CumulativeNotional: snap.CumulativeNotional,
		Timestamp:          env.Timestamp,
		BlockNumber:        snap.BlockNumber,
	})
	if err != nil {
		log.Error().Err(err).Str("exchange", snap.Exchange).Msg("Failed to archive reserve snapshot")
	}
	return err
}
