package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/observability"
)

// ErrSubscribe is returned when the account subscription could not be set up.
var ErrSubscribe = errors.New("account subscription failed")

// AccountUpdate is one accountNotification push.
type AccountUpdate struct {
	Account    PublicKey
	Info       AccountInfo
	ReceivedAt time.Time
}

// SubscriberConfig holds subscriber configuration
type SubscriberConfig struct {
	WebSocketURL string
	Commitment   string
	Encoding     string
	BufferSize   int
	Logger       *observability.Logger
	Tracer       observability.Tracer

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration // websocket ping period; 0 disables
	Dialer            *websocket.Dialer
}

// Subscriber streams account changes over the Solana PubSub websocket.
// One Subscribe call owns one connection.
type Subscriber struct {
	cfg    SubscriberConfig
	logger *observability.Logger
	tracer observability.Tracer

	nextID   atomic.Uint64
	received atomic.Uint64
}

// NewSubscriber creates an account subscriber.
func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	if cfg.WebSocketURL == "" {
		return nil, fmt.Errorf("WebSocket URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}

	return &Subscriber{
		cfg:    cfg,
		logger: cfg.Logger.Component("account-subscriber"),
		tracer: cfg.Tracer,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string  { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }
func (e *rpcError) ErrorCode() int { return e.Code }

// rpcMessage covers both call responses and subscription notifications.
type rpcMessage struct {
	ID     *uint64   `json:"id"`
	Result any       `json:"result"`
	Error  *rpcError `json:"error"`
	Method string    `json:"method"`
	Params *struct {
		Result       rpcAccountResult `json:"result"`
		Subscription uint64           `json:"subscription"`
	} `json:"params"`
}

// Subscribe opens a connection, sends accountSubscribe and waits for the
// subscription id. The returned channel closes when the stream ends or ctx is
// cancelled; on cancellation accountUnsubscribe is sent before closing.
func (s *Subscriber) Subscribe(ctx context.Context, account PublicKey) (<-chan AccountUpdate, error) {
	conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.WebSocketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrSubscribe, s.cfg.WebSocketURL, err)
	}

	subID, err := s.handshake(ctx, conn, account)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s.logger.Info("subscribed to account",
		"account", account.String(),
		"subscription", subID,
		"commitment", s.cfg.Commitment,
		"encoding", s.cfg.Encoding,
	)

	out := make(chan AccountUpdate, s.cfg.BufferSize)
	st := &stream{
		sub:     s,
		conn:    conn,
		account: account,
		subID:   subID,
		out:     out,
		done:    make(chan struct{}),
	}
	go st.readLoop(ctx)
	go st.watch(ctx)
	return out, nil
}

func (s *Subscriber) handshake(ctx context.Context, conn *websocket.Conn, account PublicKey) (uint64, error) {
	opts := map[string]string{}
	if s.cfg.Encoding != "" {
		opts["encoding"] = s.cfg.Encoding
	}
	if s.cfg.Commitment != "" {
		opts["commitment"] = s.cfg.Commitment
	}

	id := s.nextID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: "accountSubscribe", Params: []any{account.String(), opts}}
	if err := conn.WriteJSON(req); err != nil {
		return 0, fmt.Errorf("%w: send accountSubscribe: %v", ErrSubscribe, err)
	}

	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("%w: awaiting confirmation: %v", ErrSubscribe, err)
		}
		var msg rpcMessage
		if err := sonnet.Unmarshal(raw, &msg); err != nil || msg.ID == nil || *msg.ID != id {
			continue
		}
		if msg.Error != nil {
			return 0, fmt.Errorf("%w: %w", ErrSubscribe, msg.Error)
		}
		subID, ok := msg.Result.(float64)
		if !ok {
			return 0, fmt.Errorf("%w: unexpected subscription result %v", ErrSubscribe, msg.Result)
		}
		return uint64(subID), nil
	}
}

// stream is one live subscription.
type stream struct {
	sub     *Subscriber
	conn    *websocket.Conn
	account PublicKey
	subID   uint64
	out     chan AccountUpdate

	closeOnce sync.Once
	done      chan struct{} // closed when readLoop exits
}

func (st *stream) readLoop(ctx context.Context) {
	defer close(st.done)
	defer close(st.out)

	for {
		_, raw, err := st.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				st.sub.logger.LogWarn(ctx, "account stream ended", "account", st.account.String(), "error", err.Error())
			}
			st.close()
			return
		}
		receivedAt := time.Now()

		var msg rpcMessage
		if err := sonnet.Unmarshal(raw, &msg); err != nil {
			st.sub.logger.LogDebug(ctx, "skipping non-JSON frame", "bytes", len(raw))
			continue
		}
		if msg.Method != "accountNotification" || msg.Params == nil || msg.Params.Subscription != st.subID {
			continue
		}

		spanCtx, span := st.sub.tracer.StartSpan(ctx, observability.SpanPoolUpdate,
			attribute.String("account", st.account.String()),
			attribute.Int64("slot", int64(msg.Params.Result.Context.Slot)),
		)
		info, err := msg.Params.Result.info()
		span.NoticeError(err)
		span.End()
		if err != nil {
			st.sub.logger.LogWarn(spanCtx, "skipping malformed account notification", "error", err.Error())
			continue
		}
		st.sub.received.Add(1)

		select {
		case st.out <- AccountUpdate{Account: st.account, Info: *info, ReceivedAt: receivedAt}:
		case <-ctx.Done():
			return
		}
	}
}

// watch unsubscribes and closes the socket once ctx is cancelled, which
// unblocks readLoop. It also keeps the connection alive with pings.
func (st *stream) watch(ctx context.Context) {
	var ping <-chan time.Time
	if st.sub.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(st.sub.cfg.HeartbeatInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-st.done:
			if ctx.Err() != nil {
				st.unsubscribe()
			}
			st.close()
			return
		case <-ping:
			deadline := time.Now().Add(st.sub.cfg.HandshakeTimeout)
			if err := st.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				st.sub.logger.LogWarn(ctx, "websocket ping failed", "error", err.Error())
			}
		case <-ctx.Done():
			st.unsubscribe()
			st.close()
			return
		}
	}
}

func (st *stream) unsubscribe() {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      st.sub.nextID.Add(1),
		Method:  "accountUnsubscribe",
		Params:  []any{st.subID},
	}

	_ = st.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := st.conn.WriteJSON(req); err != nil {
		st.sub.logger.Debug("accountUnsubscribe not sent", "subscription", st.subID, "error", err.Error())
		return
	}
	_ = st.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (st *stream) close() {
	st.closeOnce.Do(func() {
		st.conn.Close()
	})
}

// Received returns how many notifications were delivered across all streams.
func (s *Subscriber) Received() uint64 {
	return s.received.Load()
}
