package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RuleLoader is the authoritative source of discount rules
type RuleLoader interface {
	GetRuleByCode(ctx context.Context, code string) (*models.DiscountRule, error)
}

// CachedRuleStore is a read-through cache of discount rules. Unknown codes
// are cached as JSON null so repeated bad codes do not reach the database.
type CachedRuleStore struct {
	rdb    redis.Cmdable
	next   RuleLoader
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRuleStore creates a cache in front of next
func NewCachedRuleStore(rdb redis.Cmdable, next RuleLoader, ttl time.Duration) *CachedRuleStore {
	return &CachedRuleStore{
		rdb:    rdb,
		next:   next,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

func ruleKey(code string) string {
	return "discount_rule:" + code
}

// GetRuleByCode returns the cached rule, loading it from next on a miss.
// A Redis failure falls through to next.
func (c *CachedRuleStore) GetRuleByCode(ctx context.Context, code string) (*models.DiscountRule, error) {
	ctx, span := util.StartSpan(ctx, "CachedRuleStore.GetRuleByCode")
	defer span.End()

	cached, err := c.rdb.Get(ctx, ruleKey(code)).Bytes()
	switch {
	case err == nil:
		var rule *models.DiscountRule
		if jsonErr := json.Unmarshal(cached, &rule); jsonErr == nil {
			util.DiscountRuleCacheTotal.WithLabelValues("hit").Inc()
			return rule, nil
		}
		c.logger.Warn("Discarding unreadable cached discount rule", zap.String("code", code))
		util.DiscountRuleCacheTotal.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		util.DiscountRuleCacheTotal.WithLabelValues("miss").Inc()
	default:
		c.logger.Warn("Discount rule cache unavailable", zap.String("code", code), zap.Error(err))
		util.DiscountRuleCacheTotal.WithLabelValues("error").Inc()
	}

	rule, err := c.next.GetRuleByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(rule)
	if err == nil {
		err = c.rdb.Set(ctx, ruleKey(code), payload, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn("Failed to cache discount rule", zap.String("code", code), zap.Error(err))
	}

	return rule, nil
}

// Invalidate drops a cached rule after it changes
func (c *CachedRuleStore) Invalidate(ctx context.Context, code string) error {
	return c.rdb.Del(ctx, ruleKey(code)).Err()
}
