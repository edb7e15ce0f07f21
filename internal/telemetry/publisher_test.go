package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePoster struct {
	mu    sync.Mutex
	bodys []string
	status int
	err    error
}

func (f *fakePoster) Post(_ context.Context, _ string, _ map[string]string, body []byte) ([]byte, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodys = append(f.bodys, string(body))
	if f.err != nil {
		return nil, 0, f.err
	}
	status := f.status
	if status == 0 {
		status = 204
	}
	return nil, status, nil
}

func (f *fakePoster) bodyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodys)
}

func (f *fakePoster) joined() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodys, "\n")
}

func waitForBodies(t *testing.T, p *fakePoster, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.bodyCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d write(s), saw %d", n, p.bodyCount())
}

func TestPublisherPublishWritesLineProtocol(t *testing.T) {
	poster := &fakePoster{}
	pub := New(poster, "inst-1", Config{Bucket: "telemetry", Org: "synthfi", Token: "tok", Name: "dex"}, slog.Default())

	if err := pub.Publish(context.Background(), Measurement{
		Name:   "order_fill",
		Fields: []Field{FieldU64("sequence", 1)},
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitForBodies(t, poster, 1)
	body := poster.joined()
	if !strings.Contains(body, "order_fill,instance_id=inst-1,publisher=dex sequence=1") {
		t.Fatalf("body = %q, missing injected instance_id/publisher tags", body)
	}
}

func TestPublisherPublishAllBatchesIntoOneWrite(t *testing.T) {
	poster := &fakePoster{}
	pub := New(poster, "inst-2", Config{Bucket: "telemetry", Token: "tok"}, slog.Default())

	err := pub.PublishAll(context.Background(), []Measurement{
		{Name: "a", Fields: []Field{FieldU64("x", 1)}},
		{Name: "b", Fields: []Field{FieldU64("x", 2)}},
	})
	if err != nil {
		t.Fatalf("PublishAll: %v", err)
	}

	waitForBodies(t, poster, 1)
	body := poster.joined()
	lines := strings.Split(body, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines in one write, got %d: %q", len(lines), body)
	}
}

func TestPublisherIncrAndGauge(t *testing.T) {
	poster := &fakePoster{}
	pub := New(poster, "inst-3", Config{Bucket: "telemetry", Token: "tok"}, slog.Default())

	pub.Incr("rpc_requests_sent", map[string]string{"source": "dex"})
	pub.Gauge("dex_slot", 12345, nil)

	waitForBodies(t, poster, 1)
}

func TestPublisherWriteErrorDoesNotPanic(t *testing.T) {
	poster := &fakePoster{err: context.DeadlineExceeded}
	pub := New(poster, "inst-4", Config{Bucket: "telemetry", Token: "tok"}, slog.Default())

	if err := pub.Publish(context.Background(), Measurement{
		Name:   "heartbeat",
		Fields: []Field{FieldBool("ok", true)},
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitForBodies(t, poster, 1)
}
