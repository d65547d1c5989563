package conversion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote 一次换汇报价。短 TTL 缓存，不落库。
type Quote struct {
	Amount          decimal.Decimal `json:"amount"`
	FromCurrency    string          `json:"from_currency"`
	ToCurrency      string          `json:"to_currency"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	Provider        string          `json:"provider"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// Provider 报价提供方。三个实现共享同一个能力签名，
// 由 Engine 按顺序组合，不存在共享可变基类状态。
type Provider interface {
	Name() string
	Convert(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) (*Quote, error)
}
