// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

type Published struct {
	Topic    string
	Envelope orders.Envelope
}

// Publisher records every event it is given.
type Publisher struct {
	mu   sync.Mutex
	Err  error
	msgs []Published
}

func (p *Publisher) PublishEvent(_ context.Context, topic string, env orders.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.msgs = append(p.msgs, Published{Topic: topic, Envelope: env})
	return nil
}

func (p *Publisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.msgs...)
}

// OfType filters recorded events by envelope type.
func (p *Publisher) OfType(eventType string) []Published {
	var out []Published
	for _, m := range p.Events() {
		if m.Envelope.EventType == eventType {
			out = append(out, m)
		}
	}
	return out
}

// ReservedMatchesPending reports, per product, whether reserved equals the
// quantity held by pending orders.
func ReservedMatchesPending(s *orders.MemStore, productIDs ...string) map[string][2]int {
	held := map[string]int{}
	for _, o := range s.Orders() {
		if o.Status != orders.StatusPending {
			continue
		}
		for _, it := range o.Items {
			held[it.ProductID] += it.Quantity
		}
	}
	mismatch := map[string][2]int{}
	for _, id := range productIDs {
		p, _ := s.Product(id)
		if p.Reserved != held[id] {
			mismatch[id] = [2]int{p.Reserved, held[id]}
		}
	}
	return mismatch
}
