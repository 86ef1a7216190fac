// Package wsprovider is a reference DataProvider (spec §4.3): historical
// bars come from an HTTP-ish REST backend reachable over one gorilla
// websocket connection, live bars fan in over a Redis pub/sub channel per
// symbol. It is grounded on the teacher's ws/hub.go (one long-lived
// *websocket.Conn, a registration/broadcast goroutine, per-symbol
// throttling) and cache/redis.go (go-redis/v9 client construction),
// reshaped from a server-side fan-out hub into a client-side subscriber.
package wsprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/epic1st/oakview/bar"
	"github.com/epic1st/oakview/internal/logging"
	"github.com/epic1st/oakview/provider"
)

// Config configures a Provider instance.
type Config struct {
	// WSURL is the websocket endpoint used to request historical bars.
	WSURL string
	// RedisAddr/RedisPassword/RedisDB reach the pub/sub broker live bars
	// are published on, one channel per symbol ("oakview:bars:<symbol>").
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// BaseIntervals optionally declares the finest interval this provider
	// natively serves per symbol (spec §4.3 capability negotiation).
	BaseIntervals map[string]string
}

// wireBar is the JSON shape read off both the websocket historical
// response and the Redis pub/sub channel.
type wireBar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (w wireBar) toBar() bar.Bar {
	return bar.Bar{Time: w.Time, Open: w.Open, High: w.High, Low: w.Low, Close: w.Close, Volume: w.Volume}
}

type subscription struct {
	cancel context.CancelFunc
	refs   int
}

// Provider implements provider.Provider, provider.Subscriber, and
// provider.BaseIntervalProvider.
type Provider struct {
	cfg Config
	log *logging.Logger

	dialMu sync.Mutex
	conn   *websocket.Conn

	redisClient *redis.Client

	mu   sync.Mutex
	subs map[string]*subscription // key: symbol|interval
}

// New constructs a Provider. The websocket connection and Redis client are
// both dialed lazily on first use.
func New(cfg Config, log *logging.Logger) *Provider {
	if log == nil {
		log = logging.Default
	}
	return &Provider{
		cfg:  cfg,
		log:  log,
		subs: make(map[string]*subscription),
	}
}

// Initialize dials the websocket connection and the Redis client up
// front, satisfying provider.Initializer. Providers that skip Initialize
// still work: FetchHistorical and Subscribe dial lazily.
func (p *Provider) Initialize(ctx context.Context, config map[string]any) error {
	if err := p.ensureConn(); err != nil {
		return err
	}
	p.ensureRedis()
	return nil
}

func (p *Provider) ensureConn() error {
	p.dialMu.Lock()
	defer p.dialMu.Unlock()
	if p.conn != nil {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(p.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("wsprovider: dial %s: %w", p.cfg.WSURL, err)
	}
	p.conn = conn
	go pingLoop(conn, 30*time.Second)
	return nil
}

func (p *Provider) ensureRedis() *redis.Client {
	p.dialMu.Lock()
	defer p.dialMu.Unlock()
	if p.redisClient == nil {
		p.redisClient = redis.NewClient(&redis.Options{
			Addr:     p.cfg.RedisAddr,
			Password: p.cfg.RedisPassword,
			DB:       p.cfg.RedisDB,
		})
	}
	return p.redisClient
}

// historicalRequest/historicalResponse are the websocket request/reply
// envelopes for a one-shot historical fetch over the shared connection.
type historicalRequest struct {
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

type historicalResponse struct {
	Symbol string    `json:"symbol"`
	Error  string    `json:"error,omitempty"`
	Bars   []wireBar `json:"bars"`
}

// FetchHistorical requests bars for symbol at interval over the shared
// websocket connection.
func (p *Provider) FetchHistorical(ctx context.Context, symbol, iv string) ([]bar.Bar, error) {
	if err := p.ensureConn(); err != nil {
		return nil, provider.NewTransportError(symbol, iv, err)
	}

	req := historicalRequest{Type: "historical", Symbol: symbol, Interval: iv}
	p.dialMu.Lock()
	err := p.conn.WriteJSON(req)
	if err != nil {
		p.dialMu.Unlock()
		return nil, provider.NewTransportError(symbol, iv, err)
	}
	var resp historicalResponse
	err = p.conn.ReadJSON(&resp)
	p.dialMu.Unlock()
	if err != nil {
		return nil, provider.NewTransportError(symbol, iv, err)
	}
	if resp.Error != "" {
		return nil, provider.NewMalformedError(symbol, iv, fmt.Errorf("%s", resp.Error))
	}

	bars := make([]bar.Bar, len(resp.Bars))
	for i, w := range resp.Bars {
		bars[i] = w.toBar()
	}
	return bars, nil
}

// GetBaseInterval satisfies provider.BaseIntervalProvider.
func (p *Provider) GetBaseInterval(symbol string) (string, bool) {
	iv, ok := p.cfg.BaseIntervals[symbol]
	return iv, ok
}

// Subscribe satisfies provider.Subscriber: it reference-counts wire
// subscriptions so a second Subscribe for the same (symbol, interval)
// reuses the existing Redis pub/sub goroutine, and only the 1->0
// transition tears the channel subscription down (spec §4.3).
func (p *Provider) Subscribe(symbol, iv string, callback func(bar.Bar)) (provider.UnsubscribeFunc, error) {
	key := symbol + "|" + iv

	p.mu.Lock()
	if s, ok := p.subs[key]; ok {
		s.refs++
		p.mu.Unlock()
		return p.unsubscribeFunc(key), nil
	}
	p.mu.Unlock()

	client := p.ensureRedis()
	ctx, cancel := context.WithCancel(context.Background())
	channel := "oakview:bars:" + symbol

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return nil, provider.NewTransportError(symbol, iv, err)
	}

	p.mu.Lock()
	p.subs[key] = &subscription{cancel: cancel, refs: 1}
	p.mu.Unlock()

	go p.pump(ctx, pubsub, symbol, callback)

	return p.unsubscribeFunc(key), nil
}

func (p *Provider) pump(ctx context.Context, pubsub *redis.PubSub, symbol string, callback func(bar.Bar)) {
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var w wireBar
			if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
				p.log.Warn("wsprovider: malformed bar payload", logging.Symbol(symbol))
				continue
			}
			callback(w.toBar())
		}
	}
}

func (p *Provider) unsubscribeFunc(key string) provider.UnsubscribeFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			s, ok := p.subs[key]
			if !ok {
				return
			}
			s.refs--
			if s.refs <= 0 {
				s.cancel()
				delete(p.subs, key)
			}
		})
	}
}

// Disconnect tears down the websocket connection, the Redis client, and
// every live subscription. Idempotent.
func (p *Provider) Disconnect() error {
	p.mu.Lock()
	for key, s := range p.subs {
		s.cancel()
		delete(p.subs, key)
	}
	p.mu.Unlock()

	p.dialMu.Lock()
	defer p.dialMu.Unlock()

	var firstErr error
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			firstErr = err
		}
		p.conn = nil
	}
	if p.redisClient != nil {
		if err := p.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.redisClient = nil
	}
	return firstErr
}

var (
	_ provider.Provider             = (*Provider)(nil)
	_ provider.Subscriber            = (*Provider)(nil)
	_ provider.BaseIntervalProvider  = (*Provider)(nil)
	_ provider.Initializer           = (*Provider)(nil)
)

// pingLoop keeps the shared websocket connection alive, the way a
// long-lived *websocket.Conn needs periodic pings to survive idle
// intermediary timeouts.
func pingLoop(conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}
