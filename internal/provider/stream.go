package provider

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"tickerwatch/internal/model"

	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 10 * time.Second
	pongWait          = 30 * time.Second
	writeWait         = 5 * time.Second
)

// streamMsg is one inbound websocket frame.
type streamMsg struct {
	Type       string   `json:"type"` // "trade", "subscribed", "error"
	Symbol     string   `json:"symbol"`
	Price      float64  `json:"price"`
	Size       int64    `json:"size"`
	Volume     int64    `json:"volume"`
	TS         int64    `json:"ts"` // unix milliseconds
	Venue      string   `json:"venue"`
	Conditions []string `json:"conditions"`
	Message    string   `json:"message"`
}

// subRequest is the outbound subscribe/unsubscribe frame.
type subRequest struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

// Stream is the live trade feed. It delivers parsed ticks through OnTick
// and surfaces the disconnect reason from ReadLoop; reconnect policy lives
// in the sync orchestrator, not here.
type Stream struct {
	url    string
	apiKey string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]struct{}

	wmu sync.Mutex // serializes writes; gorilla allows one writer at a time

	OnTick  func(model.Tick)
	OnError func(error)
}

// NewStream creates a stream client for the given websocket URL.
func NewStream(wsURL, apiKey string) *Stream {
	return &Stream{
		url:    wsURL,
		apiKey: apiKey,
		dialer: websocket.DefaultDialer,
		subs:   make(map[string]struct{}),
	}
}

// Connect dials the feed and replays any existing subscriptions.
func (s *Stream) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.apiKey)

	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("stream dial: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	resub := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		resub = append(resub, sym)
	}
	s.mu.Unlock()

	if len(resub) > 0 {
		if err := s.send(subRequest{Action: "subscribe", Symbols: resub}); err != nil {
			conn.Close()
			return fmt.Errorf("stream resubscribe: %w", err)
		}
		log.Printf("[stream] resubscribed %d symbols", len(resub))
	}
	return nil
}

// Subscribe registers symbols and, when connected, sends the subscribe frame.
func (s *Stream) Subscribe(symbols ...string) error {
	s.mu.Lock()
	for _, sym := range symbols {
		s.subs[sym] = struct{}{}
	}
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return nil // replayed on next Connect
	}
	return s.send(subRequest{Action: "subscribe", Symbols: symbols})
}

// Unsubscribe removes symbols and, when connected, sends the frame.
func (s *Stream) Unsubscribe(symbols ...string) error {
	s.mu.Lock()
	for _, sym := range symbols {
		delete(s.subs, sym)
	}
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.send(subRequest{Action: "unsubscribe", Symbols: symbols})
}

func (s *Stream) send(req subRequest) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stream: not connected")
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(req)
}

// ReadLoop consumes frames until the connection drops or ctx is cancelled,
// running a heartbeat alongside. It always returns the terminal error.
func (s *Stream) ReadLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stream: not connected")
	}

	done := make(chan struct{})
	defer close(done)
	go s.heartbeat(ctx, conn, done)

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		default:
		}

		var msg streamMsg
		if err := conn.ReadJSON(&msg); err != nil {
			s.Close()
			return fmt.Errorf("stream read: %w", err)
		}

		switch msg.Type {
		case "trade":
			if s.OnTick == nil {
				continue
			}
			s.OnTick(model.Tick{
				Symbol:     msg.Symbol,
				TS:         time.UnixMilli(msg.TS).UTC(),
				Price:      msg.Price,
				Volume:     msg.Volume,
				Size:       msg.Size,
				Venue:      msg.Venue,
				Conditions: msg.Conditions,
			})
		case "error":
			log.Printf("[stream] upstream error: %s", msg.Message)
			if s.OnError != nil {
				s.OnError(fmt.Errorf("stream: %s", msg.Message))
			}
		}
	}
}

func (s *Stream) heartbeat(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.wmu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close tears down the connection. Idempotent; subscriptions are kept for
// the next Connect.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.conn.Close()
		s.conn = nil
	}
}
