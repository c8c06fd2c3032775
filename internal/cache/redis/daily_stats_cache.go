package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/predictlabs/marketcore/internal/domain"
)

// Daily stats keys live for two days so yesterday's numbers stay readable
// across the midnight rollover.
const dailyStatsTTL = 48 * time.Hour

var gwei = big.NewInt(1_000_000_000)

// DailyStatsCache implements domain.DailyStatsCache with Redis hashes, one
// hash per question per UTC day. Volume is accumulated in gwei so HINCRBY's
// int64 range covers realistic daily totals.
//
// Key schema:
//
//	marketcore:stats:{yyyy-mm-dd}:{questionID} - hash {buys, volume_gwei}
type DailyStatsCache struct {
	rdb *redis.Client
}

// NewDailyStatsCache creates a DailyStatsCache backed by the given Client.
func NewDailyStatsCache(c *Client) *DailyStatsCache {
	return &DailyStatsCache{rdb: c.Underlying()}
}

func dailyStatsKey(questionID common.Hash, day time.Time) string {
	return keyPrefix + "stats:" + day.UTC().Format("2006-01-02") + ":" + questionID.Hex()
}

// RecordBuy adds one buy of the given size to the question's counters for the
// day containing now.
func (dc *DailyStatsCache) RecordBuy(ctx context.Context, questionID common.Hash, amount *big.Int, now time.Time) error {
	key := dailyStatsKey(questionID, now)
	volumeGwei := new(big.Int).Div(amount, gwei)

	pipe := dc.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "buys", 1)
	pipe.HIncrBy(ctx, key, "volume_gwei", volumeGwei.Int64())
	pipe.Expire(ctx, key, dailyStatsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record buy %s: %w", questionID.Hex(), err)
	}
	return nil
}

// Stats returns the question's counters for the day containing now. Missing
// keys read as zero.
func (dc *DailyStatsCache) Stats(ctx context.Context, questionID common.Hash, now time.Time) (domain.DailyStats, error) {
	key := dailyStatsKey(questionID, now)
	var stats domain.DailyStats

	res, err := dc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return stats, nil
		}
		return stats, fmt.Errorf("redis: read stats %s: %w", questionID.Hex(), err)
	}
	stats.Buys, _ = strconv.ParseInt(res["buys"], 10, 64)
	stats.VolumeGwei, _ = strconv.ParseInt(res["volume_gwei"], 10, 64)
	return stats, nil
}

// Compile-time interface check.
var _ domain.DailyStatsCache = (*DailyStatsCache)(nil)
