// Package transport implements the two wire transports shared by both venue
// clients (§4.1 of the design spec): a persistent WebSocket (WSS) duplex
// and a keep-alive HTTPS client. The WSS transport has a queued send, a
// single on-message callback and a capped exponential-backoff reconnect
// loop. The HTTPS transport has none of these: its calls block until the
// response arrives and return the body, with resty retrying 5xx and
// transport errors up to 3 times.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wssPingInterval     = 50 * time.Second
	wssReadTimeout      = 90 * time.Second
	wssMaxReconnectWait = 30 * time.Second
	wssWriteTimeout     = 10 * time.Second
	wssWriteQueueSize   = 256
)

// OnMessage is invoked once per inbound frame. It must not block.
type OnMessage func(data []byte)

// OnConnect is invoked once per successful (re)connection, before reads
// begin, so callers can re-send any state that must survive a reconnect
// (e.g. re-issuing subscriptions).
type OnConnect func(send func([]byte) error) error

// WSS is a reconnecting WebSocket transport with an internal write queue so
// Send never blocks the caller on network I/O.
type WSS struct {
	url       string
	onMessage OnMessage
	onConnect OnConnect
	logger    *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	writeCh chan []byte
	closed  chan struct{}
	once    sync.Once
}

// NewWSS constructs a WSS transport. Run must be called to start the
// connection loop.
func NewWSS(url string, onMessage OnMessage, onConnect OnConnect, logger *slog.Logger) *WSS {
	return &WSS{
		url:       url,
		onMessage: onMessage,
		onConnect: onConnect,
		logger:    logger.With("component", "wss_transport"),
		writeCh:   make(chan []byte, wssWriteQueueSize),
		closed:    make(chan struct{}),
	}
}

// Send enqueues payload for writing. Non-blocking unless the queue is full,
// in which case it blocks until ctx is done or space frees up.
func (w *WSS) Send(ctx context.Context, payload []byte) error {
	select {
	case w.writeCh <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.closed:
		return fmt.Errorf("wss transport closed")
	}
}

// Close stops the transport and closes the underlying connection.
func (w *WSS) Close() error {
	w.once.Do(func() { close(w.closed) })
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// Run connects and maintains the connection with capped exponential
// backoff, blocking until ctx is cancelled or Close is called.
func (w *WSS) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := w.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-w.closed:
			return nil
		default:
		}

		w.logger.Warn("wss disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.closed:
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wssMaxReconnectWait {
			backoff = wssMaxReconnectWait
		}
	}
}

func (w *WSS) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	defer func() {
		w.connMu.Lock()
		conn.Close()
		w.conn = nil
		w.connMu.Unlock()
	}()

	writerDone := make(chan error, 1)
	readerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go w.writeLoop(readerCtx, conn, writerDone)
	go w.pingLoop(readerCtx, conn)

	if w.onConnect != nil {
		send := func(payload []byte) error { return w.enqueue(ctx, payload) }
		if err := w.onConnect(send); err != nil {
			return fmt.Errorf("on-connect: %w", err)
		}
	}

	w.logger.Info("wss connected", "url", w.url)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(wssReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case werr := <-writerDone:
				if werr != nil {
					return werr
				}
			default:
			}
			return fmt.Errorf("read: %w", err)
		}
		w.onMessage(msg)
	}
}

func (w *WSS) enqueue(ctx context.Context, payload []byte) error {
	select {
	case w.writeCh <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WSS) writeLoop(ctx context.Context, conn *websocket.Conn, done chan<- error) {
	for {
		select {
		case <-ctx.Done():
			done <- nil
			return
		case payload := <-w.writeCh:
			w.connMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(wssWriteTimeout))
			err := conn.WriteMessage(websocket.TextMessage, payload)
			w.connMu.Unlock()
			if err != nil {
				done <- fmt.Errorf("write: %w", err)
				return
			}
		}
	}
}

func (w *WSS) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wssPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.connMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(wssWriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.connMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
