// Package fabric implements the cross-instance pub/sub broadcast layer:
// every committed operation is published so every other instance holding a
// session for that document can relay it, with loop suppression (an
// instance never re-broadcasts a message it originated), TTL-bounded
// retention for reconnecting subscribers, and at-least-once delivery via
// application-level acks with exponential-backoff retry.
//
// Grounded on internal/cache's go-redis/v9 client idiom (pooled client,
// otel spans, prometheus counters around every operation).
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/collabfabric/engine/internal/errors"
	"github.com/collabfabric/engine/internal/logger"
	"github.com/collabfabric/engine/internal/metrics"
)

// Message is one fabric envelope. Payload carries the caller's serialized
// operation; OriginInstance is the publishing instance's id, used for loop
// suppression by every subscriber including the publisher's own instance.
// TTL bounds how long a subscriber may treat the message as still live: a
// message whose age exceeds TTL at receive time is dropped rather than
// delivered, since a stale op/presence update is worse than a missed one
// the caller's own resync path will recover.
type Message struct {
	ID             string          `json:"id"`
	OriginInstance string          `json:"origin_instance"`
	Payload        json.RawMessage `json:"payload"`
	PublishedAt    time.Time       `json:"published_at"`
	TTL            time.Duration   `json:"ttl"`
	RetryCount     int             `json:"retry_count"`
}

// expired reports whether msg has aged past its TTL as of now. A zero TTL
// means the message never expires at receive time.
func (msg Message) expired(now time.Time) bool {
	if msg.TTL <= 0 {
		return false
	}
	return now.Sub(msg.PublishedAt) > msg.TTL
}

// Fabric is one instance's handle onto the shared broadcast bus.
type Fabric struct {
	client     *redis.Client
	instanceID string

	retention      time.Duration
	messageTTL     time.Duration
	maxMessageSize int
	ackRequired    bool
	ackTimeout     time.Duration

	mu   sync.Mutex
	acks map[string]chan struct{} // message id -> closed on ack receipt

	backoff Backoff
}

// Backoff configures retry spacing for failed publishes.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxRetries int
}

// DefaultBackoff matches what a reconnecting Redis client typically needs:
// quick first retry, capped growth, bounded attempts so a dead fabric
// surfaces as FabricUnavailable rather than hanging the caller.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 50 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2, MaxRetries: 5}
}

// New constructs a Fabric bound to an existing Redis client.
func New(client *redis.Client, instanceID string, retention time.Duration, maxMessageSize int, ackRequired bool) *Fabric {
	return &Fabric{
		client:         client,
		instanceID:     instanceID,
		retention:      retention,
		messageTTL:     retention,
		maxMessageSize: maxMessageSize,
		ackRequired:    ackRequired,
		ackTimeout:     3 * time.Second,
		acks:           make(map[string]chan struct{}),
		backoff:        DefaultBackoff(),
	}
}

// Publish broadcasts payload on channel, retrying with exponential backoff
// on transient failure. If ackRequired, it blocks until at least one
// subscriber other than the publisher acks, or ackTimeout elapses.
func (f *Fabric) Publish(ctx context.Context, channel string, payload json.RawMessage) error {
	if len(payload) > f.maxMessageSize {
		return errors.InvalidOperation(fmt.Sprintf("fabric message exceeds max size %d", f.maxMessageSize))
	}

	msg := Message{
		ID:             uuid.NewString(),
		OriginInstance: f.instanceID,
		Payload:        payload,
		PublishedAt:    time.Now(),
		TTL:            f.messageTTL,
	}

	var ackCh chan struct{}
	if f.ackRequired {
		ackCh = make(chan struct{})
		f.mu.Lock()
		f.acks[msg.ID] = ackCh
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			delete(f.acks, msg.ID)
			f.mu.Unlock()
		}()
	}

	ctx, span := otel.Tracer("fabric").Start(ctx, "fabric.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("fabric.channel", channel),
		attribute.String("fabric.message_id", msg.ID),
	)

	start := time.Now()
	err := f.publishWithRetry(ctx, channel, msg)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.Get().FabricPublishTotal.WithLabelValues(channel, "error").Inc()
		return errors.FabricUnavailable(err.Error())
	}

	// Retained so a reconnecting subscriber replaying recent history (via
	// Redis Streams or a sorted set keyed by timestamp in a fuller
	// deployment) can still pick it up within the retention window. Here
	// that's modeled as a best-effort side record the subscriber path can
	// extend; the pub/sub delivery itself is fire-and-forget at this layer.
	f.retainLocked(ctx, channel, msg)

	metrics.Get().FabricPublishTotal.WithLabelValues(channel, "success").Inc()

	if f.ackRequired {
		select {
		case <-ackCh:
			metrics.Get().FabricAckDuration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
		case <-time.After(f.ackTimeout):
			return errors.FabricUnavailable("no ack received within timeout")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *Fabric) publishWithRetry(ctx context.Context, channel string, msg Message) error {
	wait := f.backoff.Initial
	var lastErr error
	for attempt := 0; attempt <= f.backoff.MaxRetries; attempt++ {
		msg.RetryCount = attempt
		body, err := json.Marshal(msg)
		if err != nil {
			return errors.InvalidOperation("failed to encode fabric message: " + err.Error())
		}
		if err := f.client.Publish(ctx, channel, body).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait = time.Duration(float64(wait) * f.backoff.Multiplier)
		if wait > f.backoff.Max {
			wait = f.backoff.Max
		}
	}
	return lastErr
}

func (f *Fabric) retainLocked(ctx context.Context, channel string, msg Message) {
	key := "fabric:retained:" + channel + ":" + msg.ID
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := f.client.Set(ctx, key, body, f.retention).Err(); err != nil {
		logger.Log.Warn("fabric: failed to retain message", zap.Error(err), zap.String("channel", channel))
	}
}

// Subscribe returns a channel of messages published on channel, excluding
// any this instance itself originated (loop suppression). An ack is sent
// for each message as soon as it is queued onto the returned channel;
// messages dropped because the channel is full are not acked.
func (f *Fabric) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	sub := f.client.Subscribe(ctx, channel, channel+":ack")
	if _, err := sub.Receive(ctx); err != nil {
		return nil, errors.FabricUnavailable(err.Error())
	}

	out := make(chan Message, 256) // bounded: backpressure surfaces as dropped messages past this point
	go func() {
		defer close(out)
		defer sub.Close()
		raw := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case rmsg, ok := <-raw:
				if !ok {
					return
				}
				if rmsg.Channel == channel+":ack" {
					f.handleAck(rmsg.Payload)
					continue
				}
				var msg Message
				if err := json.Unmarshal([]byte(rmsg.Payload), &msg); err != nil {
					continue
				}
				if msg.OriginInstance == f.instanceID {
					metrics.Get().FabricLoopDropped.WithLabelValues(channel).Inc()
					continue
				}
				if msg.expired(time.Now()) {
					metrics.Get().FabricTTLExpiredDropped.WithLabelValues(channel).Inc()
					continue
				}
				select {
				case out <- msg:
					f.sendAck(ctx, channel, msg.ID)
				default:
					// subscriber too slow to keep up; drop rather than
					// block the shared Redis connection for every channel.
				}
			}
		}
	}()
	return out, nil
}

func (f *Fabric) sendAck(ctx context.Context, channel, messageID string) {
	if err := f.client.Publish(ctx, channel+":ack", messageID).Err(); err != nil {
		logger.Log.Warn("fabric: failed to send ack", zap.Error(err))
	}
}

func (f *Fabric) handleAck(messageID string) {
	f.mu.Lock()
	ch, ok := f.acks[messageID]
	f.mu.Unlock()
	if ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}
