package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/predictlabs/marketcore/internal/domain"
)

const marketDataTTL = 5 * time.Second

// MarketDataCache implements domain.MarketDataCache using short-TTL JSON
// values. Market data is cheap to rebuild from the pool but the API serves it
// on every list request, so a few seconds of staleness buys a lot of load off
// the engines.
//
// Key schema:
//
//	marketcore:mdata:{questionID} - JSON-serialized MarketData
type MarketDataCache struct {
	rdb *redis.Client
}

// NewMarketDataCache creates a MarketDataCache backed by the given Client.
func NewMarketDataCache(c *Client) *MarketDataCache {
	return &MarketDataCache{rdb: c.Underlying()}
}

func marketDataKey(questionID common.Hash) string {
	return keyPrefix + "mdata:" + questionID.Hex()
}

// Set stores the read-model for one question with a short TTL.
func (mc *MarketDataCache) Set(ctx context.Context, md domain.MarketData) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("redis: marshal market data %s: %w", md.QuestionID.Hex(), err)
	}
	if err := mc.rdb.Set(ctx, marketDataKey(md.QuestionID), data, marketDataTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market data %s: %w", md.QuestionID.Hex(), err)
	}
	return nil
}

// Get retrieves the cached read-model for one question.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketDataCache) Get(ctx context.Context, questionID common.Hash) (domain.MarketData, error) {
	data, err := mc.rdb.Get(ctx, marketDataKey(questionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketData{}, domain.ErrNotFound
		}
		return domain.MarketData{}, fmt.Errorf("redis: get market data %s: %w", questionID.Hex(), err)
	}

	var md domain.MarketData
	if err := json.Unmarshal(data, &md); err != nil {
		return domain.MarketData{}, fmt.Errorf("redis: unmarshal market data %s: %w", questionID.Hex(), err)
	}
	return md, nil
}

// Invalidate removes the cached read-model, forcing the next read to rebuild.
func (mc *MarketDataCache) Invalidate(ctx context.Context, questionID common.Hash) error {
	if err := mc.rdb.Del(ctx, marketDataKey(questionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market data %s: %w", questionID.Hex(), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketDataCache = (*MarketDataCache)(nil)
