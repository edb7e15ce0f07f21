// Package subscription implements the WSS subscription manager layered on
// the RPC multiplexer (§4.3 of the design spec): it owns one notifier task
// per live subscription, each with a 30s idle timer, and guarantees the
// invariant that exactly one handler is registered per live subscription.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const idleTimeout = 30 * time.Second

// Caller abstracts the RPC mux's Call method so this package doesn't need
// to import internal/rpc directly (the mux already depends on transport;
// this keeps the dependency graph a DAG per §2's control-flow line).
type Caller interface {
	Call(ctx context.Context, method string, params any, out any) error
}

// OnNotification is invoked once per matching notification, synchronously
// on the goroutine that called HandleNotification. Exceptions (panics) are
// recovered and logged so one bad handler cannot poison the stream.
type OnNotification func(subscriptionID uint64, msg json.RawMessage)

type subEntry struct {
	onNotify OnNotification
	resetCh  chan struct{}
	doneCh   chan struct{}
}

// Manager tracks live subscriptions and fans notifications out to their
// registered handlers.
type Manager struct {
	caller Caller
	logger *slog.Logger

	mu   sync.Mutex
	subs map[uint64]*subEntry
}

// New constructs a Manager. The caller must route inbound id-less RPC
// notifications to HandleNotification (e.g. via mux.WithNotificationHandler).
func New(caller Caller, logger *slog.Logger) *Manager {
	return &Manager{
		caller: caller,
		logger: logger.With("component", "subscription_manager"),
		subs:   make(map[uint64]*subEntry),
	}
}

// subscribeResult is the common shape of every *Subscribe RPC's result.
type subscribeResult struct {
	SubscriptionID uint64 `json:"subscription_id"`
}

// Subscribe sends the RPC, registers the notifier task, and returns the
// server-assigned subscription id.
func (m *Manager) Subscribe(ctx context.Context, method string, params any, onNotify OnNotification) (uint64, error) {
	var result subscribeResult
	if err := m.caller.Call(ctx, method, params, &result); err != nil {
		return 0, fmt.Errorf("subscribe %s: %w", method, err)
	}

	m.mu.Lock()
	if _, exists := m.subs[result.SubscriptionID]; exists {
		m.mu.Unlock()
		return 0, fmt.Errorf("subscription: duplicate server subscription id %d", result.SubscriptionID)
	}
	entry := &subEntry{
		onNotify: onNotify,
		resetCh:  make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
	m.subs[result.SubscriptionID] = entry
	m.mu.Unlock()

	go m.runIdleTimer(result.SubscriptionID, entry)

	return result.SubscriptionID, nil
}

// Unsubscribe sends the unsubscribe RPC and removes the local entry,
// satisfying invariant 1: cancellation removes both the server-side
// subscription and the local handler atomically from the caller's view.
func (m *Manager) Unsubscribe(ctx context.Context, method string, subscriptionID uint64) error {
	m.mu.Lock()
	entry, ok := m.subs[subscriptionID]
	if ok {
		delete(m.subs, subscriptionID)
	}
	m.mu.Unlock()

	if ok {
		close(entry.doneCh)
	}

	var result bool
	if err := m.caller.Call(ctx, method, []any{subscriptionID}, &result); err != nil {
		return fmt.Errorf("unsubscribe %s/%d: %w", method, subscriptionID, err)
	}
	return nil
}

// HandleNotification is the mux's fallback handler for id-less messages. It
// extracts the subscription id from the notification envelope and dispatches
// to the registered handler, recovering from any panic so a single bad
// handler cannot take down the stream.
func (m *Manager) HandleNotification(_ string, params json.RawMessage) {
	var envelope struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(params, &envelope); err != nil {
		m.logger.Error("subscription: malformed notification", "error", err)
		return
	}

	m.mu.Lock()
	entry, ok := m.subs[envelope.Subscription]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("subscription: notification for unknown id", "id", envelope.Subscription)
		return
	}

	select {
	case entry.resetCh <- struct{}{}:
	default:
	}

	m.dispatch(envelope.Subscription, entry, envelope.Result)
}

func (m *Manager) dispatch(id uint64, entry *subEntry, msg json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscription: handler panicked, stream continues", "id", id, "recover", r)
		}
	}()
	entry.onNotify(id, msg)
}

func (m *Manager) runIdleTimer(id uint64, entry *subEntry) {
	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-entry.doneCh:
			return
		case <-entry.resetCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idleTimeout)
		case <-timer.C:
			m.logger.Warn("subscription idle, no notifications received", "id", id, "timeout", idleTimeout)
			timer.Reset(idleTimeout)
		}
	}
}

// Count returns the number of live subscriptions; used by tests to verify
// invariant 1 (one handler per live subscription).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
