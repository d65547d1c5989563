package gasless

import (
	"math/big"
	"strings"

	"payment-core/pkg/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token 受支持的 ERC-20 代币配置
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
	// USDRate 建单时固定 USD 估值用的简化价格表 (稳定币为 1)。
	// 展示层的实时换算走 conversion.Engine，这里只负责落库时的一次性估值。
	USDRate decimal.Decimal
}

// ToSmallestUnit 人类可读金额 -> 最小单位整数 (超出精度部分截断)
func (t Token) ToSmallestUnit(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

// FromSmallestUnit 最小单位整数 -> 人类可读金额
func (t Token) FromSmallestUnit(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -t.Decimals)
}

// TokenRegistry 按符号索引的代币表
type TokenRegistry struct {
	tokens map[string]Token
	order  []string
}

func NewTokenRegistry(cfgs []config.TokenConfig) *TokenRegistry {
	r := &TokenRegistry{tokens: make(map[string]Token)}
	for _, c := range cfgs {
		symbol := strings.ToUpper(c.Symbol)
		rate, err := decimal.NewFromString(c.USDRate)
		if err != nil || rate.IsZero() {
			rate = decimal.NewFromInt(1)
		}
		r.tokens[symbol] = Token{
			Symbol:   symbol,
			Address:  common.HexToAddress(c.Address),
			Decimals: c.Decimals,
			USDRate:  rate,
		}
		r.order = append(r.order, symbol)
	}
	return r
}

// Get 按符号查找 (大小写不敏感)
func (r *TokenRegistry) Get(symbol string) (Token, bool) {
	t, ok := r.tokens[strings.ToUpper(symbol)]
	return t, ok
}

// All 按配置顺序返回所有代币
func (r *TokenRegistry) All() []Token {
	out := make([]Token, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.tokens[s])
	}
	return out
}
