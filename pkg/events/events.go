// Package events implements the Event Emitter (C12, spec §4.12): publishing
// UserCreated events to the message broker's "routing-gateway" routing key,
// with a process-local, bounded dedup set so the same event is logged at
// most once per process lifetime (spec §5, §9 "global mutable state in
// event deduplication").
//
// The teacher has no broker concern; this package is grounded on the
// other_examples/manifests/kamil5b-go-ptse-monolith sibling's go.mod
// dependency on github.com/rabbitmq/amqp091-go.
package events

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/georchestra/gateway/pkg/gatewayerrors"
	"github.com/georchestra/gateway/pkg/logger"
)

// RoutingKey is the broker routing key UserCreated events publish to
// (spec §4.12).
const RoutingKey = "routing-gateway"

// dedupCapacity bounds the process-local dedup set (spec §5: LRU eviction
// at 10000 entries).
const dedupCapacity = 10000

// UserCreated is the JSON payload published on user creation (spec §4.12).
type UserCreated struct {
	UID          string `json:"uid"`
	Subject      string `json:"subject"`
	FullName     string `json:"fullName"`
	LocalUID     string `json:"localUid"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
	ProviderName string `json:"providerName"`
	ProviderUID  string `json:"providerUid"`
}

// Publisher is the narrow broker interface the Emitter drives; satisfied
// by *amqp.Channel in production and a fake in tests.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer is the narrow broker interface used to observe UserCreated
// events back off the exchange (spec §4.12: "the emitter also consumes
// messages from the same subject"); satisfied by *amqp.Channel.
type Consumer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Emitter is the Event Emitter (C12).
type Emitter struct {
	pub      Publisher
	exchange string
	timeout  time.Duration

	dedup *lruSet
}

// New constructs an Emitter publishing on the given exchange via pub.
func New(pub Publisher, exchange string) *Emitter {
	return &Emitter{
		pub:      pub,
		exchange: exchange,
		timeout:  5 * time.Second,
		dedup:    newLRUSet(dedupCapacity),
	}
}

// Dial connects to the broker at url and returns an Emitter publishing on
// the given exchange, already consuming its own routing key back (spec
// §4.12). The connection and channel are not pooled beyond this single
// long-lived channel (spec §5 suspension-point wrapping).
func Dial(ctx context.Context, url, exchange string) (*Emitter, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, gatewayerrors.Wrap(gatewayerrors.KindBrokerUnavailable, "dial", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, gatewayerrors.Wrap(gatewayerrors.KindBrokerUnavailable, "channel", err)
	}

	e := New(ch, exchange)
	if err := e.Consume(ctx, ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	closer := func() error {
		ch.Close()
		return conn.Close()
	}
	return e, closer, nil
}

// EmitUserCreated publishes the event when providerName is non-empty and
// the uid has not already been emitted this process lifetime (spec §4.12,
// §5). Publish failures are logged at error level (BrokerUnavailable) and
// otherwise swallowed: account creation has already succeeded by the time
// this runs (spec §4.6: emitted only after create/org/roles all succeed).
func (e *Emitter) EmitUserCreated(ev UserCreated) {
	if ev.ProviderName == "" {
		return
	}
	ev.Subject = "OAUTH2-ACCOUNT-CREATION"

	if e.dedup.seenOrAdd(ev.UID) {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("marshal UserCreated event for %s: %v", ev.UID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.pub.PublishWithContext(ctx, e.exchange, RoutingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		logger.Errorf("publish UserCreated event for %s: %v", ev.UID, gatewayerrors.Wrap(gatewayerrors.KindBrokerUnavailable, "publish", err))
	}
}

// Consume declares a server-named, exclusive, auto-delete queue bound to
// the exchange under RoutingKey, and logs each observed UserCreated event
// at most once, deduplicating by uid against the same set EmitUserCreated
// uses (spec §4.12). Queue setup happens synchronously; delivery handling
// runs in a background goroutine until ctx is cancelled.
func (e *Emitter) Consume(ctx context.Context, sub Consumer) error {
	q, err := sub.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindBrokerUnavailable, "declare consume queue", err)
	}
	if err := sub.QueueBind(q.Name, RoutingKey, e.exchange, false, nil); err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindBrokerUnavailable, "bind consume queue", err)
	}
	deliveries, err := sub.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.KindBrokerUnavailable, "consume", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				e.logObserved(d.Body)
			}
		}
	}()
	return nil
}

// logObserved decodes one delivery and logs it at most once per uid.
func (e *Emitter) logObserved(body []byte) {
	var ev UserCreated
	if err := json.Unmarshal(body, &ev); err != nil {
		logger.Warnf("decode observed UserCreated event: %v", err)
		return
	}
	if e.dedup.seenOrAdd(ev.UID) {
		return
	}
	logger.Infow("user created event observed", "uid", ev.UID, "providerName", ev.ProviderName)
}

// lruSet is a bounded, mutex-protected dedup set with LRU eviction
// (spec §5, §9).
type lruSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newLRUSet(capacity int) *lruSet {
	return &lruSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// contains reports whether key is present, without mutating order.
func (s *lruSet) contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// seenOrAdd reports whether key was already present, adding it (as most
// recently used) if not.
func (s *lruSet) seenOrAdd(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[key]; ok {
		s.order.MoveToFront(el)
		return true
	}

	el := s.order.PushFront(key)
	s.index[key] = el

	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.index, oldest.Value.(string))
		}
	}
	return false
}
