package conversion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CoinGecko 兜底聚合行情源 (simple/price API)
type CoinGecko struct {
	apiUrl string
	client *http.Client
}

func NewCoinGecko(apiUrl string, client *http.Client) *CoinGecko {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CoinGecko{apiUrl: apiUrl, client: client}
}

func (p *CoinGecko) Name() string { return "CoinGecko" }

// coingeckoID 把代币符号映射为 CoinGecko 的 coin id
func coingeckoID(currency string) string {
	switch strings.ToUpper(currency) {
	case "USDT":
		return "tether"
	case "USDC":
		return "usd-coin"
	case "ETH":
		return "ethereum"
	default:
		return strings.ToLower(currency)
	}
}

func (p *CoinGecko) Convert(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) (*Quote, error) {
	from := strings.ToUpper(fromCurrency)
	to := strings.ToUpper(toCurrency)
	cryptoID := coingeckoID(from)

	q := url.Values{}
	q.Set("ids", cryptoID)
	q.Set("vs_currencies", strings.ToLower(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiUrl+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var result map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	rate, ok := result[cryptoID][strings.ToLower(to)]
	if !ok || rate == 0 {
		return nil, fmt.Errorf("unable to get rate for %s to %s", from, to)
	}

	return &Quote{
		Amount:          amount,
		FromCurrency:    from,
		ToCurrency:      to,
		ConvertedAmount: amount.Mul(decimal.NewFromFloat(rate)),
		Provider:        p.Name(),
		LastUpdated:     time.Now(), // CoinGecko 不返回报价时间
	}, nil
}
