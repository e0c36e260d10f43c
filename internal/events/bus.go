// Package events fans checkout signals out to subscribers without letting a
// slow or failing subscriber hold up the publisher or its peers.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/money"
)

const DefaultSubscriberBuffer = 64

type Kind string

const (
	KindBillPaid         Kind = "bill.paid"
	KindRestockThreshold Kind = "stock.restock_threshold"
	KindStockDepleted    Kind = "stock.depleted"
)

var ErrBusClosed = errors.New("event bus closed")

type Event struct {
	Kind       Kind           `json:"kind"`
	At         time.Time      `json:"at"`
	BillNumber string         `json:"bill_number,omitempty"`
	Channel    domain.Channel `json:"channel,omitempty"`
	Method     string         `json:"method,omitempty"`
	Amount     money.Money    `json:"amount"`
	ItemCode   string         `json:"item_code,omitempty"`
	Remaining  int            `json:"remaining"`
	Threshold  int            `json:"threshold"`
}

type Handler func(ctx context.Context, event Event) error

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}

type subscriber struct {
	name    string
	kinds   map[Kind]bool
	handler Handler
	ch      chan Event
}

func (s *subscriber) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	buffer int
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewBus(logger *zap.Logger, buffer int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	return &Bus{buffer: buffer, logger: logger.Named("events")}
}

// Subscribe registers handler for the given kinds, or for every kind when
// none are given. Each subscriber runs on its own goroutine.
func (b *Bus) Subscribe(name string, handler Handler, kinds ...Kind) error {
	name = strings.TrimSpace(name)
	if name == "" || handler == nil {
		return fmt.Errorf("%w: subscriber needs a name and a handler", domain.ErrValidation)
	}

	s := &subscriber{
		name:    name,
		kinds:   make(map[Kind]bool, len(kinds)),
		handler: handler,
		ch:      make(chan Event, b.buffer),
	}
	for _, k := range kinds {
		s.kinds[k] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	go b.run(s)
	return nil
}

// Publish queues event for every interested subscriber and returns at once.
// A subscriber whose queue is full misses the event.
func (b *Bus) Publish(_ context.Context, event Event) {
	if b == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if !s.wants(event.Kind) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			b.logger.Warn("subscriber queue full, dropping event",
				zap.String("subscriber", s.name),
				zap.String("kind", string(event.Kind)),
			)
		}
	}
}

// Close stops accepting events and waits for queued ones to be handled.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()
	for event := range s.ch {
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s *subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("subscriber", s.name),
				zap.String("kind", string(event.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	if err := s.handler(context.Background(), event); err != nil {
		b.logger.Warn("subscriber failed",
			zap.String("subscriber", s.name),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
	}
}

// LogSubscriber records every event at info level.
func LogSubscriber(logger *zap.Logger) Handler {
	return func(_ context.Context, e Event) error {
		logger.Info("checkout event",
			zap.String("kind", string(e.Kind)),
			zap.String("bill", e.BillNumber),
			zap.String("item", e.ItemCode),
			zap.Int("remaining", e.Remaining),
			zap.Stringer("amount", e.Amount),
		)
		return nil
	}
}
