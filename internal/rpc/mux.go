// Package rpc implements the JSON-RPC 2.0 multiplexer used by the DEX
// client stack (§4.2 of the design spec). It correlates requests and
// responses by a monotonically increasing id over either the HTTPS or the
// WSS transport, and publishes request/response counters to telemetry.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synthfi-arb/arb/internal/apperr"
	"github.com/synthfi-arb/arb/internal/transport"
)

const requestTimeout = 30 * time.Second

// Counters is a minimal telemetry sink the mux increments on every call;
// the real implementation is internal/telemetry.Publisher.
type Counters interface {
	Incr(name string, tags map[string]string)
}

type noopCounters struct{}

func (noopCounters) Incr(string, map[string]string) {}

// request is the JSON-RPC 2.0 envelope sent on the wire.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is the JSON-RPC 2.0 envelope received on the wire. ID is a
// pointer so notifications (no id) can be distinguished from responses.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	// Notification envelope (subscription push), carries its own "params".
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type pendingRequest struct {
	resultCh chan json.RawMessage
	errCh    chan error
}

// NotificationHandler processes an unsolicited (id-less) message.
type NotificationHandler func(method string, params json.RawMessage)

// Mux multiplexes JSON-RPC calls over a single transport. Over HTTPS each
// call is a request/response round trip; over WSS, responses and
// subscription notifications share the same read stream and are
// distinguished by the presence of "id".
type Mux struct {
	logger   *slog.Logger
	counters Counters

	nextID uint64

	mu      sync.Mutex
	pending map[uint64]*pendingRequest

	onNotify NotificationHandler

	https *transport.HTTPS
	wss   *transport.WSS
}

// Option configures a Mux.
type Option func(*Mux)

// WithCounters injects a telemetry sink.
func WithCounters(c Counters) Option {
	return func(m *Mux) { m.counters = c }
}

// WithNotificationHandler installs the fallback handler for id-less
// messages (subscription notifications).
func WithNotificationHandler(h NotificationHandler) Option {
	return func(m *Mux) { m.onNotify = h }
}

// SetNotificationHandler installs or replaces the fallback handler after
// construction, so a consumer (e.g. the subscription manager) that needs a
// reference to the mux before it can hand back its own handler is not stuck
// in a construction-order deadlock.
func (m *Mux) SetNotificationHandler(h NotificationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNotify = h
}

// NewHTTPMux builds a mux that issues each call as an independent POST over
// a persistent keep-alive HTTP client.
func NewHTTPMux(rpcURL string, logger *slog.Logger, opts ...Option) *Mux {
	m := &Mux{
		logger:   logger.With("component", "rpc_mux"),
		counters: noopCounters{},
		pending:  make(map[uint64]*pendingRequest),
		https:    transport.NewHTTPS(rpcURL, requestTimeout),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// NewWSMux builds a mux layered on a long-lived WSS transport; the caller
// is responsible for running wss.Run in a goroutine.
func NewWSMux(wss *transport.WSS, logger *slog.Logger, opts ...Option) *Mux {
	m := &Mux{
		logger:  logger.With("component", "rpc_mux"),
		pending: make(map[uint64]*pendingRequest),
		wss:     wss,
	}
	m.counters = noopCounters{}
	for _, o := range opts {
		o(m)
	}
	return m
}

// HandleMessage feeds one inbound WSS frame to the mux; install as the WSS
// transport's OnMessage callback.
func (m *Mux) HandleMessage(data []byte) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		m.logger.Error("rpc mux: malformed message", "error", err)
		return
	}
	m.counters.Incr("rpc_responses_received", map[string]string{"source": "dex"})

	if resp.ID == nil {
		if m.onNotify != nil {
			m.onNotify(resp.Method, resp.Params)
		}
		return
	}

	m.mu.Lock()
	p, ok := m.pending[*resp.ID]
	if ok {
		delete(m.pending, *resp.ID)
	}
	m.mu.Unlock()

	if !ok {
		// A response to a request we no longer track (already timed out).
		return
	}

	if resp.Error != nil {
		p.errCh <- &apperr.RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		return
	}
	p.resultCh <- resp.Result
}

// Call issues one JSON-RPC request and blocks until a matching response
// arrives, an RPC error is returned, or requestTimeout elapses — whichever
// comes first. The pending-request table invariant (§3 invariant 2) holds:
// exactly one entry exists for the lifetime of the call, removed on every
// exit path.
func (m *Mux) Call(ctx context.Context, method string, params any, out any) error {
	id := atomic.AddUint64(&m.nextID, 1)
	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	m.counters.Incr("rpc_requests_sent", map[string]string{"source": "dex"})

	if m.https != nil {
		return m.callHTTP(ctx, body, out)
	}
	return m.callWS(ctx, id, body, out)
}

func (m *Mux) callHTTP(ctx context.Context, body []byte, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	raw, status, err := m.https.Post(callCtx, "", map[string]string{"Content-Type": "application/json"}, body)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportClosed, err)
	}
	if status >= 500 {
		return fmt.Errorf("%w: rpc http status %d", apperr.ErrInternal, status)
	}
	m.counters.Incr("rpc_responses_received", map[string]string{"source": "dex"})

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrDeserialize, err)
	}
	if resp.Error != nil {
		return &apperr.RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrDeserialize, err)
	}
	return nil
}

func (m *Mux) callWS(ctx context.Context, id uint64, body []byte, out any) error {
	p := &pendingRequest{resultCh: make(chan json.RawMessage, 1), errCh: make(chan error, 1)}

	m.mu.Lock()
	m.pending[id] = p
	m.mu.Unlock()

	cleanup := func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}

	if err := m.wss.Send(ctx, body); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", apperr.ErrTransportClosed, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case result := <-p.resultCh:
		if out != nil && len(result) > 0 {
			if err := json.Unmarshal(result, out); err != nil {
				return fmt.Errorf("%w: %v", apperr.ErrDeserialize, err)
			}
		}
		return nil
	case err := <-p.errCh:
		return err
	case <-timer.C:
		cleanup()
		return fmt.Errorf("%w: rpc call id=%d", apperr.ErrTimeout, id)
	case <-ctx.Done():
		cleanup()
		return ctx.Err()
	}
}

// PendingCount returns the number of in-flight requests; used by tests to
// verify the no-leak property (§8 invariant 8).
func (m *Mux) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
