package gasless

import "github.com/shopspring/decimal"

// platformFeeRate 平台费率 1%, 目前仅展示不收取
var platformFeeRate = decimal.NewFromFloat(0.01)

// FeeEstimate 费用预估
type FeeEstimate struct {
	NetworkFee  decimal.Decimal `json:"network_fee"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	TotalFee    decimal.Decimal `json:"total_fee"`
	Currency    string          `json:"currency"`
	Gasless     bool            `json:"gasless"`
}

// EstimateFees 预估一笔转账的费用。
// Gas 由 Paymaster 代付, 网络费对用户恒为 0;
// 平台费按 1% 计算但当前不纳入实收, TotalFee 保持 0。
func EstimateFees(amount decimal.Decimal, currency string) FeeEstimate {
	return FeeEstimate{
		NetworkFee:  decimal.Zero,
		PlatformFee: amount.Mul(platformFeeRate),
		TotalFee:    decimal.Zero,
		Currency:    currency,
		Gasless:     true,
	}
}
