package indicator

import (
	"log"
	"sync"

	"tickerwatch/internal/model"
)

// Handler receives indicator snapshots for a subscribed symbol.
// Delivery is synchronous; a panicking handler is caught and logged so it
// can never throw into the publisher.
type Handler func(*model.IndicatorSnapshot)

// Subscription identifies a registered handler for later removal.
type Subscription struct {
	symbol string
	id     uint64
}

// registry is a publish/subscribe fan-out keyed by symbol.
type registry struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]map[uint64]Handler)}
}

func (r *registry) add(symbol string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	if r.subs[symbol] == nil {
		r.subs[symbol] = make(map[uint64]Handler, 4)
	}
	r.subs[symbol][id] = h
	return Subscription{symbol: symbol, id: id}
}

func (r *registry) remove(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.subs[sub.symbol]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(r.subs, sub.symbol)
		}
	}
}

func (r *registry) publish(symbol string, snap *model.IndicatorSnapshot) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.subs[symbol]))
	for _, h := range r.subs[symbol] {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("[indicator] subscriber panic for %s: %v", symbol, rec)
				}
			}()
			h(snap)
		}()
	}
}
