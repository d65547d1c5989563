package service

import (
	"context"

	"payment-core/internal/service/gasless"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TokenBalance 单个代币的余额视图
type TokenBalance struct {
	Symbol       string          `json:"symbol"`
	TokenAddress string          `json:"token_address"`
	Decimals     int32           `json:"decimals"`
	Balance      decimal.Decimal `json:"balance"`     // 人类可读
	RawBalance   string          `json:"raw_balance"` // 最小单位
	BalanceUSD   decimal.Decimal `json:"balance_usd"`
	Error        string          `json:"error,omitempty"` // 该代币查询失败时的说明
}

// BalanceSummary 全量余额视图。单个代币失败不影响其它代币 (部分结果)。
type BalanceSummary struct {
	Address  string          `json:"address"`
	Balances []TokenBalance  `json:"balances"`
	TotalUSD decimal.Decimal `json:"total_usd"`
}

// BalanceService 链上余额查询
type BalanceService struct {
	chain  gasless.ChainReader
	tokens *gasless.TokenRegistry
}

func NewBalanceService(chain gasless.ChainReader, tokens *gasless.TokenRegistry) *BalanceService {
	return &BalanceService{chain: chain, tokens: tokens}
}

// GetTokenBalance 查询单个代币余额
func (s *BalanceService) GetTokenBalance(ctx context.Context, accountAddress, symbol string) (*TokenBalance, error) {
	token, ok := s.tokens.Get(symbol)
	if !ok {
		return nil, errno.ErrUnsupportedToken.WithMessage("Unsupported token: " + symbol)
	}

	raw, err := s.chain.BalanceOf(ctx, token.Address, common.HexToAddress(accountAddress))
	if err != nil {
		return nil, err
	}

	balance := token.FromSmallestUnit(raw)
	return &TokenBalance{
		Symbol:       token.Symbol,
		TokenAddress: token.Address.Hex(),
		Decimals:     token.Decimals,
		Balance:      balance,
		RawBalance:   raw.String(),
		BalanceUSD:   balance.Mul(token.USDRate),
	}, nil
}

// GetAllBalances 查询全部支持代币的余额。
// 某个代币 RPC 失败时记录错误继续查其它代币，不让一个坏合约拖垮整个响应。
func (s *BalanceService) GetAllBalances(ctx context.Context, accountAddress string) *BalanceSummary {
	summary := &BalanceSummary{
		Address:  accountAddress,
		Balances: make([]TokenBalance, 0, len(s.tokens.All())),
		TotalUSD: decimal.Zero,
	}

	for _, token := range s.tokens.All() {
		tb, err := s.GetTokenBalance(ctx, accountAddress, token.Symbol)
		if err != nil {
			logger.Warn("代币余额查询失败",
				zap.String("token", token.Symbol),
				zap.String("address", accountAddress),
				zap.Error(err))
			summary.Balances = append(summary.Balances, TokenBalance{
				Symbol:       token.Symbol,
				TokenAddress: token.Address.Hex(),
				Decimals:     token.Decimals,
				Balance:      decimal.Zero,
				RawBalance:   "0",
				Error:        err.Error(),
			})
			continue
		}
		summary.Balances = append(summary.Balances, *tb)
		summary.TotalUSD = summary.TotalUSD.Add(tb.BalanceUSD)
	}
	return summary
}

// CheckSufficient 余额是否足够转出 amount (人类可读单位)
func (s *BalanceService) CheckSufficient(ctx context.Context, accountAddress, symbol string, amount decimal.Decimal) (bool, *TokenBalance, error) {
	tb, err := s.GetTokenBalance(ctx, accountAddress, symbol)
	if err != nil {
		return false, nil, err
	}
	return tb.Balance.GreaterThanOrEqual(amount), tb, nil
}
