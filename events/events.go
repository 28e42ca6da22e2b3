/* SPDX-License-Identifier: MIT */

// Package events implements the engine-owned event broker called for in
// spec.md §9: explicit subscription tokens replace the source's ambient
// EventEmitter-style bus. Subscriber callbacks always run on the caller's
// own goroutine, never while an engine lock is held (spec.md §5).
package events

import (
	"sync"
)

// Token identifies a subscription; Unsubscribe removes it.
type Token uint64

// Broker fans out typed events to subscribers by topic. It is generic
// over nothing — topics are plain strings — because the event payloads
// in spec.md §6 (PeerDiscovered, PeerLost, TransmissionReceived,
// StatusChanged, PairingStateChanged, EmergencyReceived) are unrelated
// concrete types; each topic's subscribers agree out of band on the
// payload shape, the same way the teacher's device passes concrete
// *Peer / *Handshake values through its own ad hoc channels.
type Broker struct {
	mu        sync.RWMutex
	nextToken Token
	subs      map[string]map[Token]func(any)
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[Token]func(any))}
}

// Subscribe registers fn against topic and returns an unsubscribe token.
func (b *Broker) Subscribe(topic string, fn func(any)) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	token := b.nextToken
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[Token]func(any))
	}
	b.subs[topic][token] = fn
	return token
}

// Unsubscribe removes a subscription by token, scanning every topic —
// callers only keep the token, not the topic it was registered under.
func (b *Broker) Unsubscribe(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		delete(subs, token)
	}
}

// Publish invokes every current subscriber of topic with payload. Each
// callback runs synchronously on the publisher's goroutine but outside
// any engine lock — callers that need async dispatch should have the
// callback itself hand off to its own goroutine; a subscriber callback
// exceeding 100ms is "slow" per spec.md §5 but never blocks delivery to
// other subscribers since each is invoked independently.
func (b *Broker) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := make([]func(any), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(payload)
	}
}
