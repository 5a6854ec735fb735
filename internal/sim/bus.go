package sim

import (
	"context"
	"log/slog"
	"sync"
)

// Handler receives a message published by some other agent. Handlers must
// not block; the Bus invokes them sequentially from its own fan-out
// goroutine (§5: "must serialize access").
type Handler func(Message)

const observerRingCapacity = 200

// BusStats is the per-type send/delivery counters the Bus exposes for
// introspection.
type BusStats struct {
	TotalSent      int
	TotalDelivered int
	BySentType     map[MessageKind]int
}

func (s BusStats) clone() BusStats {
	out := BusStats{TotalSent: s.TotalSent, TotalDelivered: s.TotalDelivered}
	out.BySentType = make(map[MessageKind]int, len(s.BySentType))
	for k, v := range s.BySentType {
		out.BySentType[k] = v
	}
	return out
}

// Bus is the publish/subscribe agent-to-agent message bus (§4.4). Publishing
// is synchronous with respect to per-type counters (a test asserting "100
// sent" right after 100 Publish calls must see it), but fan-out to handlers
// runs on a single background goroutine so that a slow or buggy handler never
// stalls the publishing tick. The goroutine is the sole serializer of
// handlers/log/ring-buffer state; everything else goes through mu for
// introspection from the driver's logical thread.
type Bus struct {
	mu       sync.Mutex
	handlers map[string]Handler
	stats    BusStats

	recording bool
	log       []Message

	onMessage func(Message)
	ring      []Message // bounded observer ring buffer, oldest dropped

	queue  chan Message
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBus constructs a Bus and starts its fan-out goroutine. Call Stop to
// cancel cooperatively.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		handlers: make(map[string]Handler),
		stats:    BusStats{BySentType: make(map[MessageKind]int)},
		queue:    make(chan Message, 1024),
		done:     make(chan struct{}),
		logger:   logger.With("component", "bus"),
	}
	b.wg.Add(1)
	go b.fanOutLoop()
	return b
}

// Register adds agentID's handler. A later call with the same id replaces
// the handler.
func (b *Bus) Register(agentID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[agentID] = h
}

// Unregister removes agentID's handler, if any.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, agentID)
}

// SetOnMessage installs the optional observer callback, invoked once per
// publication from the fan-out goroutine.
func (b *Bus) SetOnMessage(cb func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = cb
}

// Publish enqueues msg for fan-out to every registered handler except the
// sender. Per-type send statistics are updated synchronously so callers can
// observe them immediately after Publish returns.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	b.stats.TotalSent++
	b.stats.BySentType[msg.Kind]++
	b.mu.Unlock()

	select {
	case b.queue <- msg:
	case <-b.done:
	}
}

func (b *Bus) fanOutLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-b.queue:
			if !ok {
				return
			}
			b.deliver(msg)
		}
	}
}

func (b *Bus) deliver(msg Message) {
	b.mu.Lock()
	recipients := make([]Handler, 0, len(b.handlers))
	for id, h := range b.handlers {
		if id == msg.SenderID {
			continue
		}
		recipients = append(recipients, h)
	}
	b.stats.TotalDelivered += len(recipients)
	if b.recording {
		b.log = append(b.log, msg)
	}
	b.ring = append(b.ring, msg)
	if len(b.ring) > observerRingCapacity {
		b.ring = b.ring[len(b.ring)-observerRingCapacity:]
	}
	cb := b.onMessage
	b.mu.Unlock()

	for _, h := range recipients {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warn("handler panicked", "recover", r)
				}
			}()
			h(msg)
		}()
	}

	if cb != nil {
		cb(msg)
	}
}

// Stats returns a snapshot of the bus's send/delivery counters.
func (b *Bus) Stats() BusStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats.clone()
}

// StartRecording enables append-only logging of every delivered message and
// clears any prior log.
func (b *Bus) StartRecording() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recording = true
	b.log = nil
}

// StopRecording disables logging without clearing what has been captured.
func (b *Bus) StopRecording() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recording = false
}

// Log returns a copy of the recorded message log.
func (b *Bus) Log() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.log))
	copy(out, b.log)
	return out
}

// RecentMessages returns up to observerRingCapacity of the most recently
// delivered messages, per the command surface's "recent messages (≤ 200)".
func (b *Bus) RecentMessages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.ring))
	copy(out, b.ring)
	return out
}

// Stop cancels the fan-out goroutine and waits (bounded by ctx) for the
// delivery in progress, if any, to finish. Messages still queued at that
// point are not delivered. Stop is idempotent.
func (b *Bus) Stop(ctx context.Context) {
	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}
	waited := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}
}
