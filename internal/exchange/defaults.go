package exchange

import (
	"net/http"
	"time"

	"trading-signals/internal/exchange/binance"
	"trading-signals/internal/exchange/kucoin"
)

// Endpoints overrides the public exchange endpoints. Empty fields keep the
// client defaults.
type Endpoints struct {
	BinanceStream string
	BinanceREST   string
	KucoinREST    string
}

// NewDefaultRegistry registers the Binance and KuCoin clients under
// "binance" and "kucoin".
func NewDefaultRegistry(ep Endpoints) *Registry {
	client := &http.Client{Timeout: 10 * time.Second}

	r := NewRegistry()
	r.RegisterFeed("binance", binance.NewStream(binance.StreamConfig{BaseURL: ep.BinanceStream}))
	r.RegisterHistory("binance", binance.NewREST(ep.BinanceREST, client))

	kc := kucoin.NewREST(ep.KucoinREST, client)
	r.RegisterFeed("kucoin", kucoin.NewStream(kc))
	r.RegisterHistory("kucoin", kc)
	return r
}
