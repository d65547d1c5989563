package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-core/pkg/cache"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrAllProvidersFailed 所有适用的报价源都失败
var ErrAllProvidersFailed = errors.New("all conversion providers failed")

// Engine 按固定顺序尝试报价源：
// 涉及本地法币 (NGN) 时先走 P2P 市场，失败后依次降级到主/备聚合源。
// 第一个成功即返回；单个报价源的失败只记日志，不向上传播。
//
// 结果按 (amount, from, to) 缓存 30 秒。读写之间没有互斥，
// 并发 miss 可能导致重复上游请求 —— TTL 很短且读是幂等的，可接受。
type Engine struct {
	peer      Provider // 仅本地法币对适用
	primary   Provider
	secondary Provider
	localFiat string
	cache     cache.Cache
	ttl       time.Duration
}

func NewEngine(peer, primary, secondary Provider, localFiat string, c cache.Cache, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Engine{
		peer:      peer,
		primary:   primary,
		secondary: secondary,
		localFiat: strings.ToUpper(localFiat),
		cache:     c,
		ttl:       ttl,
	}
}

func (e *Engine) cacheKey(amount decimal.Decimal, from, to string) string {
	return fmt.Sprintf("conversion:%s:%s:%s", amount.String(), from, to)
}

// Convert 获取 amount 从 from 换算到 to 的报价
func (e *Engine) Convert(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) (*Quote, error) {
	from := strings.ToUpper(fromCurrency)
	to := strings.ToUpper(toCurrency)
	key := e.cacheKey(amount, from, to)

	if e.cache != nil {
		var cached Quote
		if err := e.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	quote, err := e.convertUpstream(ctx, amount, from, to)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, quote, e.ttl); err != nil {
			logger.Warn("报价缓存写入失败", zap.String("key", key), zap.Error(err))
		}
	}
	return quote, nil
}

func (e *Engine) convertUpstream(ctx context.Context, amount decimal.Decimal, from, to string) (*Quote, error) {
	providers := []Provider{e.primary, e.secondary}
	if from == e.localFiat || to == e.localFiat {
		providers = append([]Provider{e.peer}, providers...)
	}

	var lastErr error
	for _, p := range providers {
		if p == nil {
			continue
		}
		quote, err := p.Convert(ctx, amount, from, to)
		if err == nil {
			return quote, nil
		}
		lastErr = err
		logger.Warn("报价源失败，尝试下一个",
			zap.String("provider", p.Name()),
			zap.String("pair", from+"/"+to),
			zap.Error(err))
		if monitor.Business != nil {
			monitor.Business.ConversionProviderErrors.WithLabelValues(p.Name()).Inc()
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}
