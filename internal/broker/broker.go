// Package broker implements the Redis-mediated data plane described in
// spec §4.1: key-space layout, TTL discipline, pub/sub channels, the
// command/response RPC pattern, and the config-change notification bus.
//
// Every other component talks to the fleet only through a Broker; no
// component dials another component directly.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// connectMaxRetries and connectBaseDelay implement spec §5's "3-attempt
// exponential backoff (1s base, 2x growth)" broker-connect policy.
const (
	connectMaxRetries = 3
	connectBaseDelay  = time.Second
)

// Interface is the surface application code depends on, so tests can swap
// in brokertest.Fake instead of a real Redis connection. *Broker implements
// it; so does brokertest.Fake.
type Interface interface {
	WriteReadings(ctx context.Context, sourceID string, readings []types.SensorReading) error
	ReadSource(ctx context.Context, sourceID string) ([]SourceReading, error)
	ReadAllSources(ctx context.Context) (map[string][]SourceReading, error)

	WriteMetadata(ctx context.Context, sourceID string, meta types.SourceMetadata) error
	ReadMetadata(ctx context.Context, sourceID string) (*types.SourceMetadata, error)

	WriteStatus(ctx context.Context, sourceID string, status types.SourceStatus) error
	ReadStatus(ctx context.Context, sourceID string) (*types.SourceStatus, error)
	ReadAllStatuses(ctx context.Context) ([]types.SourceStatus, error)

	PublishData(ctx context.Context, sourceID string) error
	SubscribeData(ctx context.Context, sourceID string) (<-chan types.DataNotification, func(), error)

	ReadConfig(ctx context.Context, section string) (types.ConfigSection, bool, error)
	WriteConfig(ctx context.Context, section string, data types.ConfigSection) error
	SeedConfig(ctx context.Context, section string, data types.ConfigSection) (bool, error)
	PublishConfigChanged(ctx context.Context, section string) error
	SubscribeConfigChanges(ctx context.Context) (<-chan string, func(), error)

	WriteScan(ctx context.Context, scope string, data interface{}) error
	ReadScan(ctx context.Context, scope string, out interface{}) (bool, error)

	PublishCommand(ctx context.Context, target string, cmd types.Command) error
	PublishResponse(ctx context.Context, target string, resp types.CommandResponse) error
	SubscribeCommands(ctx context.Context, target string) (<-chan types.Command, func(), error)
	Call(ctx context.Context, target, action string, params map[string]interface{}, timeout time.Duration) (*types.CommandResponse, error)

	PublishStreamEnded(ctx context.Context, evt types.StreamEndedEvent) error
	SubscribeStreamEnded(ctx context.Context) (<-chan types.StreamEndedEvent, func(), error)
}

// Broker is the sole communication medium between components (spec §2).
// A Broker owns two underlying Redis connections: cmdConn for ordinary
// reads/writes/pipelines, and subConn for pub/sub subscriptions — kept
// separate so a long-lived subscription never head-of-line blocks a normal
// command (spec §5, "Shared resources").
type Broker struct {
	cmdConn *redis.Client
	subConn *redis.Client
}

// New connects to the broker at url, retrying per spec §5's connect policy.
// It is the Go analog of sense_common.redis_client.create_redis.
func New(ctx context.Context, url string) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("broker: invalid url: %w", err)
	}

	cmdConn := redis.NewClient(opts)
	subConn := redis.NewClient(opts)

	bo := backoff.WithMaxRetries(newConnectBackoff(), connectMaxRetries-1)
	pingErr := backoff.Retry(func() error {
		return cmdConn.Ping(ctx).Err()
	}, backoff.WithContext(bo, ctx))
	if pingErr != nil {
		_ = cmdConn.Close()
		_ = subConn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, pingErr)
	}

	return &Broker{cmdConn: cmdConn, subConn: subConn}, nil
}

func newConnectBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = connectBaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	return bo
}

var _ Interface = (*Broker)(nil)

// Close releases both underlying Redis connections.
func (b *Broker) Close() error {
	err1 := b.cmdConn.Close()
	err2 := b.subConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// --- Readings (source:{id}:{sensor}) ---

// WriteReadings pipeline-writes all readings under DataTTLSeconds, so a
// reader's scan observes a self-consistent batch per spec §4.1's
// serialization-envelope requirement.
func (b *Broker) WriteReadings(ctx context.Context, sourceID string, readings []types.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	ttl := time.Duration(types.DataTTLSeconds) * time.Second
	_, err := b.cmdConn.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range readings {
			payload, merr := r.MarshalEnvelope()
			if merr != nil {
				return fmt.Errorf("broker: marshal reading %s: %w", r.SensorID, merr)
			}
			pipe.Set(ctx, readingKey(sourceID, r.SensorID), payload, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("broker: write readings for %s: %w", sourceID, err)
	}
	return nil
}

// SourceReading is a materialized source:{id}:{sensor} value.
type SourceReading struct {
	SensorID  string
	Value     interface{}
	Unit      *string
	Timestamp float64
}

// ReadSource enumerates all live readings for one source via incremental
// cursor scan (spec §4.1's scan-cursor semantics), batch size 100.
func (b *Broker) ReadSource(ctx context.Context, sourceID string) ([]SourceReading, error) {
	keys, err := b.scanKeys(ctx, sourceScanPattern(sourceID))
	if err != nil {
		return nil, err
	}
	return b.materializeReadings(ctx, sourceID, keys)
}

// ReadAllSources enumerates all live readings across every source.
func (b *Broker) ReadAllSources(ctx context.Context) (map[string][]SourceReading, error) {
	keys, err := b.scanKeys(ctx, allSourcesScanPattern)
	if err != nil {
		return nil, err
	}
	out := map[string][]SourceReading{}
	if len(keys) == 0 {
		return out, nil
	}
	values, err := b.cmdConn.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: mget sources: %w", err)
	}
	for i, key := range keys {
		if values[i] == nil {
			continue
		}
		var sourceID, sensorID string
		if _, serr := fmt.Sscanf(key, "source:%s", &sourceID); serr != nil {
			continue
		}
		// key is "source:{source_id}:{sensor_id}" — split on the first
		// colon after "source:" to recover both parts (sensor_id may
		// itself contain no further colons by contract).
		sourceID, sensorID, ok := splitSourceKey(key)
		if !ok {
			continue
		}
		str, ok := values[i].(string)
		if !ok {
			continue
		}
		value, unit, ts, uerr := types.UnmarshalReadingEnvelope([]byte(str))
		if uerr != nil {
			continue
		}
		out[sourceID] = append(out[sourceID], SourceReading{SensorID: sensorID, Value: value, Unit: unit, Timestamp: ts})
	}
	return out, nil
}

func splitSourceKey(key string) (sourceID, sensorID string, ok bool) {
	const prefix = "source:"
	if len(key) <= len(prefix) {
		return "", "", false
	}
	rest := key[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i], rest[i+1:], true
		}
	}
	return "", "", false
}

func (b *Broker) materializeReadings(ctx context.Context, sourceID string, keys []string) ([]SourceReading, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	prefix := fmt.Sprintf("source:%s:", sourceID)
	values, err := b.cmdConn.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: mget source %s: %w", sourceID, err)
	}
	var out []SourceReading
	for i, key := range keys {
		if values[i] == nil {
			continue
		}
		str, ok := values[i].(string)
		if !ok || len(key) <= len(prefix) {
			continue
		}
		value, unit, ts, uerr := types.UnmarshalReadingEnvelope([]byte(str))
		if uerr != nil {
			continue
		}
		out = append(out, SourceReading{SensorID: key[len(prefix):], Value: value, Unit: unit, Timestamp: ts})
	}
	return out, nil
}

// scanKeys performs an incremental cursor scan with batch size 100 until the
// cursor returns to zero (spec §4.1).
func (b *Broker) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := b.cmdConn.Scan(ctx, cursor, pattern, scanCursorBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("broker: scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// --- Metadata (meta:{id}) ---

// WriteMetadata writes source metadata with no TTL.
func (b *Broker) WriteMetadata(ctx context.Context, sourceID string, meta types.SourceMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("broker: marshal metadata for %s: %w", sourceID, err)
	}
	if err := b.cmdConn.Set(ctx, metaKey(sourceID), payload, 0).Err(); err != nil {
		return fmt.Errorf("broker: write metadata for %s: %w", sourceID, err)
	}
	return nil
}

// ReadMetadata reads source metadata, or ErrNotFound if absent.
func (b *Broker) ReadMetadata(ctx context.Context, sourceID string) (*types.SourceMetadata, error) {
	val, err := b.cmdConn.Get(ctx, metaKey(sourceID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("broker: read metadata for %s: %w", sourceID, err)
	}
	var meta types.SourceMetadata
	if err := json.Unmarshal([]byte(val), &meta); err != nil {
		return nil, fmt.Errorf("broker: unmarshal metadata for %s: %w", sourceID, err)
	}
	return &meta, nil
}

// --- Status (status:{id}) ---

// WriteStatus writes a source's health snapshot with StatusTTLSeconds.
func (b *Broker) WriteStatus(ctx context.Context, sourceID string, status types.SourceStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("broker: marshal status for %s: %w", sourceID, err)
	}
	ttl := time.Duration(types.StatusTTLSeconds) * time.Second
	if err := b.cmdConn.Set(ctx, statusKey(sourceID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("broker: write status for %s: %w", sourceID, err)
	}
	return nil
}

// ReadStatus reads a single source's status, or ErrNotFound if its TTL
// has expired (spec invariant: a "not reporting" source).
func (b *Broker) ReadStatus(ctx context.Context, sourceID string) (*types.SourceStatus, error) {
	val, err := b.cmdConn.Get(ctx, statusKey(sourceID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("broker: read status for %s: %w", sourceID, err)
	}
	var status types.SourceStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, fmt.Errorf("broker: unmarshal status for %s: %w", sourceID, err)
	}
	return &status, nil
}

// ReadAllStatuses enumerates every status:* key via cursor scan.
func (b *Broker) ReadAllStatuses(ctx context.Context) ([]types.SourceStatus, error) {
	keys, err := b.scanKeys(ctx, allStatusesScanPattern)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := b.cmdConn.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: mget statuses: %w", err)
	}
	var out []types.SourceStatus
	for _, v := range values {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var status types.SourceStatus
		if err := json.Unmarshal([]byte(str), &status); err != nil {
			continue
		}
		out = append(out, status)
	}
	return out, nil
}

// --- Data notifications (data:{id}) ---

// PublishData publishes a data-update notification for sourceID.
func (b *Broker) PublishData(ctx context.Context, sourceID string) error {
	payload, err := json.Marshal(types.DataNotification{SourceID: sourceID, Timestamp: nowUnix()})
	if err != nil {
		return err
	}
	return b.cmdConn.Publish(ctx, dataChannel(sourceID), payload).Err()
}

// SubscribeData subscribes to data:{sourceID} and returns a channel of
// parsed notifications plus a cancel func, letting a consumer (the
// gateway's WebSocket hub) react to new readings without polling.
func (b *Broker) SubscribeData(ctx context.Context, sourceID string) (<-chan types.DataNotification, func(), error) {
	sub := b.subConn.Subscribe(ctx, dataChannel(sourceID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("broker: subscribe data for %s: %w", sourceID, err)
	}
	out := make(chan types.DataNotification)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var notif types.DataNotification
			if err := json.Unmarshal([]byte(msg.Payload), &notif); err != nil {
				continue
			}
			select {
			case out <- notif:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}

// --- Config (config:{section}) ---

// ReadConfig reads a config section, returning ok=false if absent.
func (b *Broker) ReadConfig(ctx context.Context, section string) (types.ConfigSection, bool, error) {
	val, err := b.cmdConn.Get(ctx, configKey(section)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("broker: read config %s: %w", section, err)
	}
	var out types.ConfigSection
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return nil, false, fmt.Errorf("broker: unmarshal config %s: %w", section, err)
	}
	return out, true, nil
}

// WriteConfig overwrites a config section (gateway writes take this path).
func (b *Broker) WriteConfig(ctx context.Context, section string, data types.ConfigSection) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return b.cmdConn.Set(ctx, configKey(section), payload, 0).Err()
}

// SeedConfig writes a config section only if it does not already exist
// (compare-and-set via SET NX), per spec §4.9/invariant 6. Returns whether
// this call actually wrote the value.
func (b *Broker) SeedConfig(ctx context.Context, section string, data types.ConfigSection) (bool, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return false, err
	}
	written, err := b.cmdConn.SetNX(ctx, configKey(section), payload, 0).Result()
	if err != nil {
		return false, fmt.Errorf("broker: seed config %s: %w", section, err)
	}
	return written, nil
}

// PublishConfigChanged notifies all persistent workers that section changed.
func (b *Broker) PublishConfigChanged(ctx context.Context, section string) error {
	payload, err := json.Marshal(types.ConfigChangedEvent{Section: section, Timestamp: nowUnix()})
	if err != nil {
		return err
	}
	return b.cmdConn.Publish(ctx, configChangedChannel, payload).Err()
}

// --- Scan scratch keys (scan:{scope}) ---

// WriteScan writes a scratch scan result with ScanTTLSeconds.
func (b *Broker) WriteScan(ctx context.Context, scope string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	ttl := time.Duration(types.ScanTTLSeconds) * time.Second
	return b.cmdConn.Set(ctx, scanKey(scope), payload, ttl).Err()
}

// ReadScan reads a scratch scan result into out, returning ok=false if the
// key is absent or expired.
func (b *Broker) ReadScan(ctx context.Context, scope string, out interface{}) (bool, error) {
	val, err := b.cmdConn.Get(ctx, scanKey(scope)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("broker: read scan %s: %w", scope, err)
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false, fmt.Errorf("broker: unmarshal scan %s: %w", scope, err)
	}
	return true, nil
}

// --- Commands (cmd:{target}) ---

// PublishCommand publishes a Command for target to act on.
func (b *Broker) PublishCommand(ctx context.Context, target string, cmd types.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return b.cmdConn.Publish(ctx, cmdChannel(target), payload).Err()
}

// PublishResponse publishes a CommandResponse correlated by request id.
func (b *Broker) PublishResponse(ctx context.Context, target string, resp types.CommandResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return b.cmdConn.Publish(ctx, responseChannel(target, resp.RequestID), payload).Err()
}

// NewRequestID generates a fresh, collision-improbable request id.
func NewRequestID() string {
	return uuid.NewString()
}

// Call implements the full RPC pattern of spec §4.1: subscribe to the
// response channel before publishing, publish, wait up to timeout, then
// unsubscribe. Returns ErrResponseTimeout if nothing arrives in time.
func (b *Broker) Call(ctx context.Context, target, action string, params map[string]interface{}, timeout time.Duration) (*types.CommandResponse, error) {
	requestID := NewRequestID()
	cmd := types.Command{Action: action, RequestID: requestID, Params: params, Timestamp: nowUnix()}

	sub := b.subConn.Subscribe(ctx, responseChannel(target, requestID))
	defer sub.Close()

	// Wait for the subscribe ack before publishing, so the caller cannot
	// miss a fast responder (spec §4.1 step ordering).
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("broker: subscribe to response channel: %w", err)
	}

	if err := b.PublishCommand(ctx, target, cmd); err != nil {
		return nil, fmt.Errorf("broker: publish command %s: %w", action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return nil, ErrResponseTimeout
		}
		var resp types.CommandResponse
		if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
			return nil, fmt.Errorf("broker: unmarshal response: %w", err)
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, ErrResponseTimeout
	}
}

// SubscribeCommands subscribes to cmd:{target} and returns a channel of
// parsed Commands plus a cancel func. Malformed payloads are dropped
// (spec §7, "Malformed payload" policy) rather than surfaced to the caller.
func (b *Broker) SubscribeCommands(ctx context.Context, target string) (<-chan types.Command, func(), error) {
	sub := b.subConn.Subscribe(ctx, cmdChannel(target))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("broker: subscribe commands for %s: %w", target, err)
	}
	out := make(chan types.Command)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var cmd types.Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}

// SubscribeConfigChanges subscribes to config:changed and returns a channel
// of section names plus a cancel func.
func (b *Broker) SubscribeConfigChanges(ctx context.Context) (<-chan string, func(), error) {
	sub := b.subConn.Subscribe(ctx, configChangedChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("broker: subscribe config changes: %w", err)
	}
	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt types.ConfigChangedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case out <- evt.Section:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}

// PublishStreamEnded notifies the orchestrator's lifecycle listener that
// the camera worker is self-terminating.
func (b *Broker) PublishStreamEnded(ctx context.Context, evt types.StreamEndedEvent) error {
	if evt.Timestamp == 0 {
		evt.Timestamp = nowUnix()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.cmdConn.Publish(ctx, streamEndedChannel, payload).Err()
}

// SubscribeStreamEnded subscribes to stream:ended and returns a channel of
// parsed events plus a cancel func.
func (b *Broker) SubscribeStreamEnded(ctx context.Context) (<-chan types.StreamEndedEvent, func(), error) {
	sub := b.subConn.Subscribe(ctx, streamEndedChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("broker: subscribe stream ended: %w", err)
	}
	out := make(chan types.StreamEndedEvent)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt types.StreamEndedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
