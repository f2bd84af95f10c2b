package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// StreamState tracks the session lifecycle. Transitions run strictly
// forward per connection attempt; Closed is terminal.
type StreamState int32

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnectedUnauthenticated
	StreamConnectedAuthenticated
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "disconnected"
	case StreamConnecting:
		return "connecting"
	case StreamConnectedUnauthenticated:
		return "connected"
	case StreamConnectedAuthenticated:
		return "authenticated"
	case StreamClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StreamHandler receives parsed push data from the session. Callbacks run on
// the session's read goroutine; implementations must not block.
type StreamHandler interface {
	OnOrderBook(book OrderBook)
	OnTrade(tick TradeTick)
	OnStateChange(state StreamState)
}

// StreamConfig holds WebSocket session settings.
type StreamConfig struct {
	Credentials Credentials
	Testnet     bool
	// URL overrides the exchange endpoint; used by tests.
	URL     string
	Handler StreamHandler
	// Instrument seeds the default book/trades subscriptions applied when no
	// explicit Subscribe call has been made by the time auth completes.
	Instrument string
}

// StreamSession is a JSON-RPC-over-WebSocket market data session. It
// authenticates independently of the REST client: the WS token is obtained
// on this transport and never shared. Lost connections are re-established
// with capped exponential backoff until Close is called.
type StreamSession struct {
	cfg    StreamConfig
	url    string
	state  atomic.Int32
	reqID  atomic.Int64
	authID atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	conn     *websocket.Conn
	channels []string
	wsToken  string
	explicit bool
}

// NewStreamSession builds a session without connecting. Call Run to start it.
func NewStreamSession(cfg StreamConfig) *StreamSession {
	url := cfg.URL
	if url == "" {
		url = "wss://www.deribit.com/ws/api/v2"
		if cfg.Testnet {
			url = "wss://test.deribit.com/ws/api/v2"
		}
	}
	s := &StreamSession{cfg: cfg, url: url, done: make(chan struct{})}
	s.state.Store(int32(StreamDisconnected))
	return s
}

// State returns the current session state.
func (s *StreamSession) State() StreamState {
	return StreamState(s.state.Load())
}

// Run connects and processes messages until the context is cancelled or
// Close is called. Each connection attempt authenticates and resubscribes;
// failures trigger reconnection with backoff growing from 1s to a 30s cap.
func (s *StreamSession) Run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	defer close(s.done)
	defer s.setState(StreamClosed)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StreamConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			s.setState(StreamDisconnected)
			log.Printf("stream: dial failed: %v (retrying in %s)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setState(StreamConnectedUnauthenticated)

		if err := s.sendAuth(); err != nil {
			log.Printf("stream: auth send failed: %v", err)
		}
		s.readLoop(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.wsToken = ""
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		s.setState(StreamDisconnected)
	}
}

// Close tears the session down permanently. Run returns shortly after.
func (s *StreamSession) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

// Subscribe issues an explicit public/subscribe for the given channels and
// remembers them for resubscription after reconnects. Explicit subscriptions
// replace the instrument defaults.
func (s *StreamSession) Subscribe(channels ...string) error {
	s.mu.Lock()
	s.explicit = true
	s.channels = channels
	s.mu.Unlock()
	return s.sendSubscribe(channels)
}

func (s *StreamSession) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, &TransportError{Op: "ws dial", Err: err}
	}
	return conn, nil
}

func (s *StreamSession) sendAuth() error {
	id := s.reqID.Add(1)
	s.authID.Store(id)
	return s.write(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "public/auth",
		Params: map[string]any{
			"grant_type":    "client_credentials",
			"client_id":     s.cfg.Credentials.Key,
			"client_secret": s.cfg.Credentials.Secret,
		},
	})
}

func (s *StreamSession) sendSubscribe(channels []string) error {
	if len(channels) == 0 {
		return nil
	}
	return s.write(rpcRequest{
		JSONRPC: "2.0",
		ID:      s.reqID.Add(1),
		Method:  "public/subscribe",
		Params:  map[string]any{"channels": channels},
	})
}

func (s *StreamSession) write(req rpcRequest) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &TransportError{Op: req.Method, Err: fmt.Errorf("not connected")}
	}
	if err := conn.WriteJSON(req); err != nil {
		return &TransportError{Op: req.Method, Err: err}
	}
	return nil
}

// readLoop drains the connection until it drops, classifying each message
// as a subscription push, an auth/subscribe reply, or a server error.
func (s *StreamSession) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("stream: read failed: %v", err)
			}
			conn.Close()
			return
		}
		s.dispatch(raw)
	}
}

// streamMessage is the superset envelope of everything the server pushes.
type streamMessage struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Error  *ExchangeError `json:"error"`
	Result json.RawMessage `json:"result"`
	Params struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

func (s *StreamSession) dispatch(raw []byte) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("stream: unparseable message: %s", truncate(raw, 512))
		return
	}

	switch {
	case msg.Method == "subscription":
		s.dispatchPush(msg.Params.Channel, msg.Params.Data)
	case msg.Error != nil:
		log.Printf("stream: server error for id=%d: %v", msg.ID, msg.Error)
	case msg.ID != 0 && msg.ID == s.authID.Load():
		s.handleAuthResult(msg.Result)
	case msg.Method == "heartbeat":
		s.write(rpcRequest{JSONRPC: "2.0", ID: s.reqID.Add(1), Method: "public/test"})
	default:
		// Subscribe confirmations and test replies need no action.
	}
}

func (s *StreamSession) handleAuthResult(raw json.RawMessage) {
	var res authResult
	if err := json.Unmarshal(raw, &res); err != nil || res.AccessToken == "" {
		log.Printf("stream: malformed auth result: %s", truncate(raw, 512))
		return
	}
	s.mu.Lock()
	s.wsToken = res.AccessToken
	explicit := s.explicit
	channels := s.channels
	s.mu.Unlock()

	s.setState(StreamConnectedAuthenticated)
	log.Printf("stream: authenticated, token expires in %.0fs", res.ExpiresIn)

	if !explicit && s.cfg.Instrument != "" {
		channels = []string{
			fmt.Sprintf("book.%s.100ms", s.cfg.Instrument),
			fmt.Sprintf("trades.%s.100ms", s.cfg.Instrument),
		}
		s.mu.Lock()
		s.channels = channels
		s.mu.Unlock()
	}
	if err := s.sendSubscribe(channels); err != nil {
		log.Printf("stream: subscribe failed: %v", err)
	}
}

func (s *StreamSession) dispatchPush(channel string, data json.RawMessage) {
	if s.cfg.Handler == nil {
		return
	}
	switch {
	case len(channel) > 5 && channel[:5] == "book.":
		var payload struct {
			Instrument string      `json:"instrument_name"`
			Bids       [][]float64 `json:"bids"`
			Asks       [][]float64 `json:"asks"`
			Timestamp  int64       `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Printf("stream: malformed book push on %s: %s", channel, truncate(data, 512))
			return
		}
		book := OrderBook{Instrument: payload.Instrument, Timestamp: time.UnixMilli(payload.Timestamp)}
		for _, lvl := range payload.Bids {
			if len(lvl) >= 2 {
				book.Bids = append(book.Bids, BookLevel{Price: lvl[0], Amount: lvl[1]})
			}
		}
		for _, lvl := range payload.Asks {
			if len(lvl) >= 2 {
				book.Asks = append(book.Asks, BookLevel{Price: lvl[0], Amount: lvl[1]})
			}
		}
		s.cfg.Handler.OnOrderBook(book)
	case len(channel) > 7 && channel[:7] == "trades.":
		var ticks []TradeTick
		if err := json.Unmarshal(data, &ticks); err != nil {
			log.Printf("stream: malformed trades push on %s: %s", channel, truncate(data, 512))
			return
		}
		for _, t := range ticks {
			s.cfg.Handler.OnTrade(t)
		}
	default:
		log.Printf("stream: push on unhandled channel %s", channel)
	}
}

func (s *StreamSession) setState(st StreamState) {
	prev := StreamState(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	if prev == StreamClosed {
		// Closed is terminal.
		s.state.Store(int32(StreamClosed))
		return
	}
	if s.cfg.Handler != nil {
		s.cfg.Handler.OnStateChange(st)
	}
}
