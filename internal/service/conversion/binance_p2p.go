package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BinanceP2P 点对点市场报价。只支持本地法币 (NGN) 与加密资产的兑换，
// 取挂单列表第一条 (页大小固定为 1) 作为最优报价。
type BinanceP2P struct {
	apiUrl    string
	localFiat string
	client    *http.Client
}

func NewBinanceP2P(apiUrl, localFiat string, client *http.Client) *BinanceP2P {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &BinanceP2P{apiUrl: apiUrl, localFiat: localFiat, client: client}
}

func (p *BinanceP2P) Name() string { return "Binance P2P" }

type p2pSearchRequest struct {
	Asset     string `json:"asset"`
	Fiat      string `json:"fiat"`
	TradeType string `json:"tradeType"`
	Page      int    `json:"page"`
	Rows      int    `json:"rows"`
}

type p2pSearchResponse struct {
	Data []struct {
		Adv struct {
			Price string `json:"price"`
		} `json:"adv"`
	} `json:"data"`
}

func (p *BinanceP2P) Convert(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) (*Quote, error) {
	from := strings.ToUpper(fromCurrency)
	to := strings.ToUpper(toCurrency)

	if from != p.localFiat && to != p.localFiat {
		return nil, fmt.Errorf("binance p2p only supports %s conversions", p.localFiat)
	}

	// 本地法币卖出换币，反之买入
	tradeType := "BUY"
	asset := from
	if from == p.localFiat {
		tradeType = "SELL"
		asset = to
	}

	body, err := json.Marshal(p2pSearchRequest{
		Asset:     asset,
		Fiat:      p.localFiat,
		TradeType: tradeType,
		Page:      1,
		Rows:      1,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiUrl, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("p2p search returned status %d", resp.StatusCode)
	}

	var result p2pSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no available offers found")
	}

	rate, err := decimal.NewFromString(result.Data[0].Adv.Price)
	if err != nil || rate.IsZero() {
		return nil, fmt.Errorf("invalid offer price: %q", result.Data[0].Adv.Price)
	}

	converted := amount.Mul(rate)
	if from == p.localFiat {
		converted = amount.Div(rate)
	}

	return &Quote{
		Amount:          amount,
		FromCurrency:    from,
		ToCurrency:      to,
		ConvertedAmount: converted,
		Provider:        p.Name(),
		LastUpdated:     time.Now(),
	}, nil
}
