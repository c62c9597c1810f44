// Package bus implements the in-process publish/subscribe message bus
// sessions use to fan transcript messages out to participating agents.
//
// A mutex-guarded subscriber map, a monotonic sequence number assigned
// under the same lock as fan-out (so subscribers observe messages in
// publish order), bounded per-subscriber channels that drop rather than
// block a slow reader, and an optional global callback for bridging to an
// observer. Delivery is matched against the council's communication
// graph rather than a topic string — who is allowed to address whom.
package bus

import (
	"sync"
	"time"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
)

// subscriberBuffer is the per-agent channel depth. A slow/dead subscriber
// drops messages rather than stalling the publisher.
const subscriberBuffer = 64

// Subscriber receives every message addressed to it, either directly or by
// broadcast, that the council's communication graph authorizes it to see.
type Subscriber struct {
	AgentID string
	Ch      chan model.Message
}

// Bus fans transcript messages out to subscribed agents, enforcing the
// council's CommunicationGraph before delivery.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	all         map[string]*Subscriber // SubscribeAll observers, keyed separately from agent subscribers
	seq         int64
	graph       council.CommunicationGraph
	onPublish   func(model.Message)
}

// New creates a Bus that authorizes deliveries against graph.
func New(graph council.CommunicationGraph) *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		all:         make(map[string]*Subscriber),
		graph:       graph,
	}
}

// SetOnPublish installs a callback invoked, outside the bus lock, for
// every message that is published — regardless of who it was authorized
// to reach. Observers (the websocket lifecycle fan-out, audit logging)
// hang off this rather than a normal Subscriber so they see the full
// stream without needing a seat in the communication graph.
func (b *Bus) SetOnPublish(fn func(model.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// UpdateGraph swaps the communication graph used for authorization,
// applied to every Publish call from this point on. Used when a council
// configuration is hot-reloaded.
func (b *Bus) UpdateGraph(graph council.CommunicationGraph) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.graph = graph
}

// Subscribe registers agentID to receive messages addressed to it directly
// and every broadcast message (ToAgentID == ""), subject to CanCommunicate
// authorization for both.
func (b *Bus) Subscribe(agentID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{AgentID: agentID, Ch: make(chan model.Message, subscriberBuffer)}
	b.subscribers[agentID] = sub
	return sub
}

// SubscribeAll registers an observer that receives every published message
// unfiltered, for lifecycle fan-out and audit trails.
func (b *Bus) SubscribeAll(id string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{AgentID: id, Ch: make(chan model.Message, subscriberBuffer)}
	b.all[id] = sub
	return sub
}

// Unsubscribe removes agentID's subscription, closing its channel.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[agentID]; ok {
		close(sub.Ch)
		delete(b.subscribers, agentID)
	}
}

// UnsubscribeAll removes an observer registered via SubscribeAll.
func (b *Bus) UnsubscribeAll(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.all[id]; ok {
		close(sub.Ch)
		delete(b.all, id)
	}
}

// CanCommunicate reports whether the bus's current graph allows from to
// address to directly.
func (b *Bus) CanCommunicate(from, to string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.graph.CanCommunicate(from, to)
}

// Publish assigns msg the next sequence number and fans it out. A direct
// message (ToAgentID set) is delivered only to that one agent, and only if
// the communication graph authorizes from -> to; a broadcast message
// (ToAgentID empty) is delivered to every other subscriber the graph
// authorizes the sender to reach. SubscribeAll
// observers always receive every message regardless of authorization,
// since they exist to watch the whole system rather than participate in
// it. Publish never blocks: a full subscriber channel drops the message.
func (b *Bus) Publish(msg model.Message) model.Message {
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	onPub := b.onPublish

	if msg.ToAgentID != "" {
		if sub, ok := b.subscribers[msg.ToAgentID]; ok && b.graph.CanCommunicate(msg.FromAgentID, msg.ToAgentID) {
			deliver(sub.Ch, msg)
		}
	} else {
		for agentID, sub := range b.subscribers {
			if agentID == msg.FromAgentID {
				continue
			}
			if !b.graph.CanCommunicate(msg.FromAgentID, agentID) {
				continue
			}
			deliver(sub.Ch, msg)
		}
	}
	for _, sub := range b.all {
		deliver(sub.Ch, msg)
	}
	b.mu.Unlock()

	if onPub != nil {
		onPub(msg)
	}
	return msg
}

func deliver(ch chan model.Message, msg model.Message) {
	select {
	case ch <- msg:
	default:
	}
}

// Seq returns the last sequence number assigned.
func (b *Bus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// SubscriberCount returns the number of agent subscribers currently
// registered (observers registered via SubscribeAll are not counted).
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
