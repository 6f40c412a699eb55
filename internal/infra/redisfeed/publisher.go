// Package redisfeed exports ranking snapshots to redis for external readers.
package redisfeed

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/osa030/giftrank/internal/app/notification"
	"github.com/osa030/giftrank/internal/infra/config"
)

// Publisher writes each recompute as a sorted set of totals and one hash per room.
// Keys:
//
//	<prefix>:ranking        ZSET  member=index score=total (ranked rooms only)
//	<prefix>:room:<index>   HASH  room fields and ranking row
//	<prefix>:meta           HASH  sequence, reference and alert
type Publisher struct {
	rdb    *redis.Client
	prefix string
}

// NewPublisher creates a publisher from the redis configuration.
func NewPublisher(cfg config.RedisConfig) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return NewPublisherWithClient(rdb, cfg.KeyPrefix)
}

// NewPublisherWithClient creates a publisher on an existing client.
func NewPublisherWithClient(rdb *redis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "giftrank"
	}
	return &Publisher{rdb: rdb, prefix: prefix}
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// RankingKey returns the sorted set key.
func (p *Publisher) RankingKey() string {
	return p.prefix + ":ranking"
}

// RoomKey returns the hash key of one room.
func (p *Publisher) RoomKey(index int) string {
	return p.prefix + ":room:" + strconv.Itoa(index)
}

// MetaKey returns the hash key of the update metadata.
func (p *Publisher) MetaKey() string {
	return p.prefix + ":meta"
}

// Export writes one update in a single transaction.
func (p *Publisher) Export(ctx context.Context, update *notification.Update) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, snap := range update.Rooms {
			member := strconv.Itoa(snap.Index)
			fields := map[string]any{
				"room_id":    snap.RoomID,
				"room_name":  snap.RoomName,
				"state":      snap.State.String(),
				"total":      snap.Total(),
				"pending":    snap.Ledger.Pending,
				"combo":      snap.Ledger.Combo,
				"attempts":   snap.Attempts,
				"settling":   strconv.FormatBool(snap.Settling),
				"updated_at": snap.UpdatedAt.UnixMilli(),
			}

			row, ranked := update.Ranking.Row(snap.Index)
			if ranked {
				pipe.ZAdd(ctx, p.RankingKey(), redis.Z{Score: float64(row.Total), Member: member})
				fields["rank"] = row.Rank
				fields["gap"] = row.Gap
				fields["velocity"] = row.Velocity
				fields["prediction"] = row.Prediction.String()
				fields["danger"] = row.Danger.String()
				fields["is_reference"] = strconv.FormatBool(row.IsReference)
				if row.PredictedMinutes != nil {
					fields["predicted_minutes"] = strconv.FormatFloat(*row.PredictedMinutes, 'f', 1, 64)
				} else {
					fields["predicted_minutes"] = ""
				}
			} else {
				pipe.ZRem(ctx, p.RankingKey(), member)
				fields["rank"] = 0
			}
			pipe.HSet(ctx, p.RoomKey(snap.Index), fields)
		}

		pipe.HSet(ctx, p.MetaKey(), map[string]any{
			"sequence_no":   update.SequenceNo,
			"at":            update.At.UnixMilli(),
			"reference":     update.Ranking.ReferenceIndex,
			"frozen":        strconv.FormatBool(update.Frozen),
			"alert_kind":    update.Ranking.Alert.Kind.String(),
			"alert_level":   update.Ranking.Alert.Level.String(),
			"alert_message": update.Ranking.Alert.Message,
		})
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to export ranking: sequence_no=%d", update.SequenceNo)
	}
	return nil
}
