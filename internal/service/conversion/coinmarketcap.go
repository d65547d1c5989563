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

// CoinMarketCap 主聚合行情源 (price-conversion API)
type CoinMarketCap struct {
	apiUrl string
	apiKey string
	client *http.Client
}

func NewCoinMarketCap(apiUrl, apiKey string, client *http.Client) *CoinMarketCap {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CoinMarketCap{apiUrl: apiUrl, apiKey: apiKey, client: client}
}

func (p *CoinMarketCap) Name() string { return "CoinMarketCap" }

type cmcResponse struct {
	Data []struct {
		Quote map[string]struct {
			Price       float64   `json:"price"`
			LastUpdated time.Time `json:"last_updated"`
		} `json:"quote"`
	} `json:"data"`
}

func (p *CoinMarketCap) Convert(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) (*Quote, error) {
	from := strings.ToUpper(fromCurrency)
	to := strings.ToUpper(toCurrency)

	q := url.Values{}
	q.Set("amount", amount.String())
	q.Set("symbol", from)
	q.Set("convert", to)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiUrl+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-CMC_PRO_API_KEY", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cmc returned status %d", resp.StatusCode)
	}

	var result cmcResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	if len(result.Data) == 0 {
		return nil, fmt.Errorf("unable to get quote for %s", to)
	}
	quote, ok := result.Data[0].Quote[to]
	if !ok {
		return nil, fmt.Errorf("unable to get quote for %s", to)
	}

	return &Quote{
		Amount:          amount,
		FromCurrency:    from,
		ToCurrency:      to,
		ConvertedAmount: decimal.NewFromFloat(quote.Price),
		Provider:        p.Name(),
		LastUpdated:     quote.LastUpdated,
	}, nil
}
