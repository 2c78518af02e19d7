package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/autobot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TickHandler receives every ticker update.
type TickHandler func(domain.Tick)

// TickerStream is a client for the public ticker websocket. It keeps its
// subscription across reconnects.
type TickerStream struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	codes  []string
	closed bool

	handlers  []TickHandler
	handlerMu sync.RWMutex

	done chan struct{}
}

// NewTickerStream creates a stream for wsURL, e.g.
// "wss://api.upbit.com/websocket/v1".
func NewTickerStream(wsURL string, logger *slog.Logger) *TickerStream {
	return &TickerStream{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "upbit_ws")),
		done:   make(chan struct{}),
	}
}

// OnTick registers a handler.
func (s *TickerStream) OnTick(h TickHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Subscribe connects if needed and subscribes to the ticker of instruments.
// It replaces any previous subscription.
func (s *TickerStream) Subscribe(ctx context.Context, instruments []domain.InstrumentID) error {
	codes := make([]string, len(instruments))
	for i, in := range instruments {
		codes[i] = string(in)
	}

	s.mu.Lock()
	s.codes = codes
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return s.Connect(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendSubscription()
}

// Connect dials the websocket and replays the current subscription.
func (s *TickerStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("upbit/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("upbit/ws: connect: %w", err)
	}
	s.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if len(s.codes) > 0 {
		if err := s.sendSubscription(); err != nil {
			return fmt.Errorf("upbit/ws: subscribe: %w", err)
		}
	}

	go s.readLoop(conn)
	go s.pingLoop(conn)
	return nil
}

// Close shuts the stream down. It is safe to call more than once.
func (s *TickerStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// sendSubscription writes the subscription frame. Caller must hold s.mu.
func (s *TickerStream) sendSubscription() error {
	frame := []map[string]any{
		{"ticket": uuid.NewString()},
		{"type": "ticker", "codes": s.codes},
		{"format": "DEFAULT"},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *TickerStream) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("ticker stream disconnected", slog.String("error", err.Error()))
			s.reconnect()
			return
		}
		s.handleMessage(message)
	}
}

func (s *TickerStream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			current := s.conn == conn
			if current {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				current = err == nil
			}
			s.mu.Unlock()
			if !current {
				return
			}
		}
	}
}

// handleMessage decodes a ticker frame. Frames arrive as binary JSON.
func (s *TickerStream) handleMessage(raw []byte) {
	var msg TickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "ticker" {
		return
	}
	tick := msg.ToDomainTick()

	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(tick)
	}
}

// reconnect retries Connect with exponential backoff until it succeeds or
// the stream is closed.
func (s *TickerStream) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			s.logger.Info("ticker stream reconnected")
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
