package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamConfig configures the live price stream.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// PriceUpdate is one live tick for a subscribed ticker.
type PriceUpdate struct {
	Ticker string    `json:"symbol"`
	Price  float64   `json:"price"`
	Ts     time.Time `json:"ts"`
}

// PriceStream maintains a websocket subscription to live ticker prices with
// automatic reconnect. Subscriptions survive reconnects.
type PriceStream struct {
	endpoint string
	config   StreamConfig
	log      logrus.FieldLogger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// tickers holds the active subscription set for resubscribe after reconnect.
	tickers   map[string]struct{}
	tickersMu sync.Mutex

	updates chan PriceUpdate
	done    chan struct{}
	wg      sync.WaitGroup

	reconnecting atomic.Bool
}

// NewPriceStream connects to the endpoint and starts the reader.
func NewPriceStream(ctx context.Context, endpoint string, config *StreamConfig, log logrus.FieldLogger) (*PriceStream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &PriceStream{
		endpoint: endpoint,
		config:   cfg,
		log:      log.WithField("component", "price_stream"),
		tickers:  make(map[string]struct{}),
		updates:  make(chan PriceUpdate, 1024),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Updates returns the channel live ticks are delivered on. Closed when the
// stream is closed.
func (s *PriceStream) Updates() <-chan PriceUpdate {
	return s.updates
}

// connect establishes the websocket connection.
func (s *PriceStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// streamRequest is the subscribe/unsubscribe wire frame.
type streamRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Subscribe registers tickers for live updates.
func (s *PriceStream) Subscribe(tickers ...string) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	if len(tickers) == 0 {
		return nil
	}

	s.tickersMu.Lock()
	for _, t := range tickers {
		s.tickers[t] = struct{}{}
	}
	s.tickersMu.Unlock()

	return s.writeJSON(streamRequest{Action: "subscribe", Symbols: tickers})
}

// Unsubscribe removes tickers from the live set.
func (s *PriceStream) Unsubscribe(tickers ...string) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	if len(tickers) == 0 {
		return nil
	}

	s.tickersMu.Lock()
	for _, t := range tickers {
		delete(s.tickers, t)
	}
	s.tickersMu.Unlock()

	return s.writeJSON(streamRequest{Action: "unsubscribe", Symbols: tickers})
}

// writeJSON sends a frame under the connection mutex.
func (s *PriceStream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close closes the stream and the updates channel.
func (s *PriceStream) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.updates)
	return nil
}

// readLoop reads ticks and dispatches them; on connection errors it triggers
// reconnect with exponential backoff.
func (s *PriceStream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect re-establishes the connection and resubscribes the active set.
func (s *PriceStream) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.log.WithError(err).Warn("reconnect failed, will retry on next read error")
		return
	}

	s.tickersMu.Lock()
	active := make([]string, 0, len(s.tickers))
	for t := range s.tickers {
		active = append(active, t)
	}
	s.tickersMu.Unlock()

	if len(active) > 0 {
		if err := s.writeJSON(streamRequest{Action: "subscribe", Symbols: active}); err != nil {
			s.log.WithError(err).Warn("resubscribe failed")
		}
	}
}

// handleMessage parses one tick frame and forwards it.
func (s *PriceStream) handleMessage(message []byte) {
	var update PriceUpdate
	if err := json.Unmarshal(message, &update); err != nil || update.Ticker == "" {
		return
	}

	// Block until we can send - never drop ticks
	select {
	case s.updates <- update:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *PriceStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}
