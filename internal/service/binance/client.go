// Package binance fetches futures K-lines from Binance USDⓈ-M and COIN-M
// markets over REST and streams closed bars over websocket.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"Pond/internal/domain/models"
	"Pond/internal/domain/table"
	"Pond/pkg/cache"
	xhttp "Pond/pkg/http"
)

// MaxLimit is the largest page the klines endpoint serves.
const MaxLimit = 1000

// Market selects the futures venue.
type Market string

const (
	UM Market = "um" // USDⓈ-margined, /fapi
	CM Market = "cm" // coin-margined, /dapi
)

func (m Market) defaultBaseURL() string {
	if m == CM {
		return "https://dapi.binance.com"
	}
	return "https://fapi.binance.com"
}

func (m Market) prefix() string {
	if m == CM {
		return "/dapi/v1"
	}
	return "/fapi/v1"
}

// Labels of a raw klines row, in upstream order.
var klineLabels = []string{
	"open_time", "open", "high", "low", "close", "volume", "close_time",
	"quote_volume", "count", "taker_buy_volume", "taker_buy_quote_volume", "ignore",
}

// SymbolLabel is the identifier column added to every batch.
const SymbolLabel = "jj_code"

// Client implements repository.KlineSource for Binance futures.
type Client struct {
	market     Market
	baseURL    string
	http       *xhttp.Client
	cache      cache.Service
	symbolsTTL time.Duration
}

// Option configures Client.
type Option func(*Client)

// WithBaseURL overrides the REST endpoint, e.g. for testnet.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithCache caches exchange symbols for ttl.
func WithCache(s cache.Service, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = s
		c.symbolsTTL = ttl
	}
}

// New creates a Binance futures client on the given HTTP client.
func New(market Market, hc *xhttp.Client, opts ...Option) *Client {
	if market != CM {
		market = UM
	}
	c := &Client{
		market:     market,
		baseURL:    market.defaultBaseURL(),
		http:       hc,
		symbolsTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the source in logs and metrics.
func (c *Client) Name() string { return "binance-" + string(c.market) }

// TimeLabel is the label bars are keyed by within a window.
func (c *Client) TimeLabel() string { return "open_time" }

// Klines fetches bars for req.Symbol in [req.Start, req.End). The upstream
// endTime is inclusive, so End-1 is sent. A window with no bars yields nil.
func (c *Client) Klines(ctx context.Context, req models.KlineRequest) (*table.Batch, error) {
	limit := req.Limit
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	interval := req.Interval
	if interval == "" {
		interval = models.DefaultInterval()
	}
	q := map[string][]string{
		"symbol":   {strings.ToUpper(req.Symbol)},
		"interval": {string(interval)},
		"limit":    {strconv.Itoa(limit)},
	}
	if req.Start > 0 {
		q["startTime"] = []string{strconv.FormatInt(req.Start, 10)}
	}
	if req.End > 0 {
		q["endTime"] = []string{strconv.FormatInt(req.End-1, 10)}
	}

	var rows [][]interface{}
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + c.market.prefix() + "/klines",
		QueryParams: q,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("%s klines %s: %w", c.Name(), req.Symbol, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	b := table.NewBatch(klineLabels...)
	for i, row := range rows {
		if len(row) < len(klineLabels) {
			return nil, fmt.Errorf("%s klines %s: row %d has %d fields", c.Name(), req.Symbol, i, len(row))
		}
		if err := b.AppendRow(row[:len(klineLabels)]...); err != nil {
			return nil, err
		}
	}
	b.SetConst(SymbolLabel, req.Symbol)
	return b, nil
}

// SymbolInfo is the subset of exchangeInfo symbols used here.
type SymbolInfo struct {
	Symbol       string `json:"symbol"`
	Pair         string `json:"pair"`
	ContractType string `json:"contractType"`
	Status       string `json:"status"`
	ContractStat string `json:"contractStatus"`
	QuoteAsset   string `json:"quoteAsset"`
}

type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime json.Number  `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// ExchangeInfo returns the market's contract list.
func (c *Client) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var info ExchangeInfo
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + c.market.prefix() + "/exchangeInfo",
	}, &info)
	if err != nil {
		return nil, fmt.Errorf("%s exchange info: %w", c.Name(), err)
	}
	return &info, nil
}

// PerpetualSymbols lists tradable perpetual contracts, cached when a cache is set.
func (c *Client) PerpetualSymbols(ctx context.Context) ([]string, error) {
	load := func(ctx context.Context) ([]string, error) {
		info, err := c.ExchangeInfo(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(info.Symbols))
		for _, s := range info.Symbols {
			if s.ContractType != "PERPETUAL" {
				continue
			}
			// UM reports status, CM reports contractStatus
			st := s.Status
			if st == "" {
				st = s.ContractStat
			}
			if st != "" && st != "TRADING" {
				continue
			}
			out = append(out, s.Symbol)
		}
		return out, nil
	}
	if c.cache == nil {
		return load(ctx)
	}
	return cache.GetOrLoad(ctx, c.cache, cache.Key("binance", c.market, "perpetual"), c.symbolsTTL, load)
}

// BatchFromKlines builds a labeled batch from decoded bars, e.g. from the stream.
func BatchFromKlines(klines []*models.Kline) *table.Batch {
	if len(klines) == 0 {
		return nil
	}
	b := table.NewBatch(append(append([]string{}, klineLabels[:len(klineLabels)-1]...), SymbolLabel)...)
	for _, k := range klines {
		_ = b.AppendRow(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime,
			k.QuoteVolume, k.Count, k.TakerBuyVolume, k.TakerBuyQuoteVolume, k.Symbol)
	}
	return b
}
