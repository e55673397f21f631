package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"Pond/internal/domain/models"
	drepo "Pond/internal/domain/repository"
	applogger "Pond/pkg/logger"
)

// Stream implements repository.KlineStream over the Binance futures market
// stream. Only closed bars are emitted.
type Stream struct {
	url            string
	symbols        []string
	interval       models.Interval
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *applogger.Logger

	wmu       sync.Mutex // gorilla allows one concurrent writer
	conn      *websocket.Conn
	connected atomic.Bool
	reqID     atomic.Int64
	pinging   atomic.Int32
}

const minReconnectDelay = 100 * time.Millisecond

// NewStream creates a kline stream for symbols at interval.
func NewStream(market Market, wsURL string, symbols []string, interval models.Interval, reconnectDelay, pingInterval time.Duration, l *applogger.Logger) drepo.KlineStream {
	if wsURL == "" {
		wsURL = "wss://fstream.binance.com/ws"
		if market == CM {
			wsURL = "wss://dstream.binance.com/ws"
		}
	}
	if l == nil {
		l = applogger.Nop()
	}
	if pingInterval <= 0 {
		pingInterval = 3 * time.Minute
	}
	if reconnectDelay < minReconnectDelay {
		reconnectDelay = minReconnectDelay
	}
	return &Stream{
		url:            wsURL,
		symbols:        symbols,
		interval:       interval,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            l,
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("binance stream connect: %w", err)
	}
	s.wmu.Lock()
	s.conn = conn
	s.wmu.Unlock()
	s.connected.Store(true)
	s.log.Info("binance stream connected", applogger.String("url", s.url))
	return nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Subscribe subscribes to <symbol>@kline_<interval> for every configured symbol.
func (s *Stream) Subscribe(ctx context.Context) error {
	if !s.connected.Load() {
		return fmt.Errorf("binance stream not connected")
	}
	params := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		params[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), s.interval)
	}
	req := subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: s.reqID.Add(1)}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("binance subscribe: %w", err)
	}
	s.log.Info("binance stream subscribed", applogger.Strings("streams", params))
	return nil
}

type wsKline struct {
	StartTime           int64  `json:"t"`
	CloseTime           int64  `json:"T"`
	Symbol              string `json:"s"`
	Interval            string `json:"i"`
	Open                string `json:"o"`
	Close               string `json:"c"`
	High                string `json:"h"`
	Low                 string `json:"l"`
	Volume              string `json:"v"`
	Trades              int64  `json:"n"`
	Closed              bool   `json:"x"`
	QuoteVolume         string `json:"q"`
	TakerBuyVolume      string `json:"V"`
	TakerBuyQuoteVolume string `json:"Q"`
}

type wsEvent struct {
	Event string   `json:"e"`
	Kline *wsKline `json:"k"`
}

func num(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// decodeKline returns the closed bar carried by a frame, or nil.
func decodeKline(b []byte) (*models.Kline, error) {
	var ev wsEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, err
	}
	if ev.Event != "kline" || ev.Kline == nil || !ev.Kline.Closed {
		return nil, nil
	}
	k := ev.Kline
	return &models.Kline{
		Symbol:              k.Symbol,
		Interval:            models.Interval(k.Interval),
		OpenTime:            k.StartTime,
		CloseTime:           k.CloseTime,
		Open:                num(k.Open),
		High:                num(k.High),
		Low:                 num(k.Low),
		Close:               num(k.Close),
		Volume:              num(k.Volume),
		QuoteVolume:         num(k.QuoteVolume),
		Count:               k.Trades,
		TakerBuyVolume:      num(k.TakerBuyVolume),
		TakerBuyQuoteVolume: num(k.TakerBuyQuoteVolume),
		Closed:              true,
	}, nil
}

// Read streams closed klines and errors until ctx ends or the connection fails.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Kline, <-chan error) {
	klines := make(chan *models.Kline, 256)
	errs := make(chan error, 1)

	s.wmu.Lock()
	conn := s.conn
	s.wmu.Unlock()
	// done ends the pinger with the read loop, not only with ctx
	done := make(chan struct{})

	s.pinging.Add(1)
	go func() {
		defer s.pinging.Add(-1)
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if conn == nil {
					continue
				}
				s.wmu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				s.wmu.Unlock()
			}
		}
	}()

	go func() {
		defer close(done)
		defer close(klines)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("binance stream conn nil")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("binance stream read: %w", err)
				}
				return
			}
			k, err := decodeKline(b)
			if err != nil || k == nil {
				continue
			}
			select {
			case klines <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	return klines, errs
}

// Reconnect closes, waits reconnectDelay and reconnects.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-time.After(s.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.connected.Store(false)
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool { return s.connected.Load() }
