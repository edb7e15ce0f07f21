package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// writeTimeout bounds a single flush to InfluxDB; it is not a connection
// keepalive, just a ceiling on one POST.
const writeTimeout = 30 * time.Second

// Poster is the subset of transport.HTTPS the publisher depends on, kept
// narrow so tests can fake it without spinning up resty.
type Poster interface {
	Post(ctx context.Context, path string, headers map[string]string, body []byte) ([]byte, int, error)
}

// Config names the InfluxDB v2 write target.
type Config struct {
	Bucket string
	Org    string
	Token  string
	// Name tags every measurement this publisher writes, distinguishing
	// it from other publishers sharing the same bucket (e.g. one per
	// venue).
	Name string
}

// Publisher batches measurements into a line-protocol write buffer and
// drains it to InfluxDB through a single writer goroutine at a time,
// mirroring the reference statistics publisher's buffer-then-flush loop.
// Concurrent Publish/PublishAll calls append and return immediately; only
// the goroutine that finds the buffer idle performs the write.
type Publisher struct {
	poster     Poster
	path       string
	headers    map[string]string
	instanceID string
	name       string
	logger     *slog.Logger

	mu      sync.Mutex
	buffer  strings.Builder
	writing bool
}

// New constructs a publisher. instanceID should be derived once per
// process (e.g. from a boot-time nanosecond timestamp) and shared across
// every publisher in the process so measurements from the same run
// correlate in Influx.
func New(poster Poster, instanceID string, cfg Config, logger *slog.Logger) *Publisher {
	org := cfg.Org
	if org == "" {
		org = "synthfi"
	}
	return &Publisher{
		poster:     poster,
		path:       fmt.Sprintf("/api/v2/write?bucket=%s&org=%s&precision=ns", cfg.Bucket, org),
		headers:    map[string]string{"Authorization": "Token " + cfg.Token},
		instanceID: instanceID,
		name:       cfg.Name,
		logger:     logger.With("component", "telemetry_publisher", "publisher", cfg.Name),
	}
}

// NewInstanceID derives a process-wide instance identifier from the
// current boot time, the same nanosecond-resolution scheme the reference
// publisher used.
func NewInstanceID(bootTime time.Time) string {
	return strconv.FormatInt(bootTime.UnixNano(), 10)
}

func (p *Publisher) tags(extra []Tag) []Tag {
	tags := make([]Tag, 0, len(extra)+2)
	tags = append(tags, Tag{Key: "instance_id", Value: p.instanceID})
	if p.name != "" {
		tags = append(tags, Tag{Key: "publisher", Value: p.name})
	}
	return append(tags, extra...)
}

// Publish enqueues one measurement.
func (p *Publisher) Publish(ctx context.Context, m Measurement) error {
	return p.PublishAll(ctx, []Measurement{m})
}

// PublishAll enqueues a batch of measurements as a single append under one
// lock, then kicks off a drain if nothing is currently writing.
func (p *Publisher) PublishAll(ctx context.Context, measurements []Measurement) error {
	if len(measurements) == 0 {
		return nil
	}
	now := time.Now()

	lines := make([]string, 0, len(measurements))
	for _, m := range measurements {
		m.Tags = p.tags(m.Tags)
		line, err := EncodeMeasurement(m, now)
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}

	p.mu.Lock()
	for _, line := range lines {
		if p.buffer.Len() > 0 {
			p.buffer.WriteByte('\n')
		}
		p.buffer.WriteString(line)
	}
	alreadyWriting := p.writing
	p.writing = true
	p.mu.Unlock()

	if !alreadyWriting {
		go p.drain()
	}
	return nil
}

// Incr implements rpc.Counters, recording one event as a u64 count field.
func (p *Publisher) Incr(name string, tags map[string]string) {
	if err := p.Publish(context.Background(), Measurement{
		Name:   name,
		Tags:   mapToTags(tags),
		Fields: []Field{FieldU64("count", 1)},
	}); err != nil {
		p.logger.Error("telemetry: incr failed", "name", name, "error", err)
	}
}

// Gauge implements slot.Counters, recording an instantaneous value field.
func (p *Publisher) Gauge(name string, value float64, tags map[string]string) {
	if err := p.Publish(context.Background(), Measurement{
		Name:   name,
		Tags:   mapToTags(tags),
		Fields: []Field{FieldF64("value", value)},
	}); err != nil {
		p.logger.Error("telemetry: gauge failed", "name", name, "error", err)
	}
}

func mapToTags(tags map[string]string) []Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, Tag{Key: k, Value: v})
	}
	return out
}

// drain repeatedly flushes the buffer until it is empty, then marks the
// publisher idle. A write error is logged and does not retry the lost
// batch; a non-204 status is logged but does not otherwise disrupt the
// pipeline, matching the reference publisher's tolerance for write
// failures on a telemetry side channel.
func (p *Publisher) drain() {
	for {
		p.mu.Lock()
		if p.buffer.Len() == 0 {
			p.writing = false
			p.mu.Unlock()
			return
		}
		body := p.buffer.String()
		p.buffer.Reset()
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		_, status, err := p.poster.Post(ctx, p.path, p.headers, []byte(body))
		cancel()
		switch {
		case err != nil:
			p.logger.Error("telemetry: write failed", "error", err, "bytes", len(body))
		case status != 204:
			p.logger.Error("telemetry: write returned non-204 status", "status", status, "bytes", len(body))
		default:
			p.logger.Debug("telemetry: wrote batch", "bytes", len(body))
		}
	}
}
