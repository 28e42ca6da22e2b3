/* SPDX-License-Identifier: GPL-2.0
 *
 * Adapted from golang.zx2c4.com/wireguard/ratelimiter (Copyright (C)
 * 2017-2018 Jason A. Donenfeld). The teacher rate-limits incoming
 * handshake initiations keyed by source IP; this mesh has no IP layer,
 * so the key becomes the sending NodeId and it guards two different
 * floods instead of one: RREQ broadcasts (routing) and inbound packets
 * at pipeline ingress.
 */

// Package ratelimiter implements a per-key token bucket, used to bound
// how often a given NodeId may trigger an expensive or flood-prone
// operation.
package ratelimiter

import (
	"sync"
	"time"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

type entry struct {
	mutex    sync.Mutex
	lastTime time.Time
	tokens   int64
}

// Ratelimiter is a token bucket keyed by NodeId. eventsPerSecond and
// burst configure the bucket; gcAfter bounds how long an idle
// key's entry survives before the background sweep reclaims it.
type Ratelimiter struct {
	packetCost int64
	maxTokens  int64
	gcAfter    time.Duration

	mutex sync.RWMutex
	stop  chan struct{}
	table map[types.NodeId]*entry
}

func New(eventsPerSecond int, burst int, gcAfter time.Duration) *Ratelimiter {
	packetCost := int64(time.Second) / int64(eventsPerSecond)
	r := &Ratelimiter{
		packetCost: packetCost,
		maxTokens:  packetCost * int64(burst),
		gcAfter:    gcAfter,
		table:      make(map[types.NodeId]*entry),
		stop:       make(chan struct{}),
	}
	go r.collectGarbage()
	return r
}

func (r *Ratelimiter) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

func (r *Ratelimiter) collectGarbage() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Ratelimiter) sweep() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for key, e := range r.table {
		e.mutex.Lock()
		stale := time.Since(e.lastTime) > r.gcAfter
		e.mutex.Unlock()
		if stale {
			delete(r.table, key)
		}
	}
}

// Allow reports whether key has a token available and, if so, consumes
// one.
func (r *Ratelimiter) Allow(key types.NodeId) bool {
	r.mutex.RLock()
	e := r.table[key]
	r.mutex.RUnlock()

	if e == nil {
		e = &entry{tokens: r.maxTokens - r.packetCost, lastTime: time.Now()}
		r.mutex.Lock()
		r.table[key] = e
		r.mutex.Unlock()
		return true
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := time.Now()
	e.tokens += now.Sub(e.lastTime).Nanoseconds()
	e.lastTime = now
	if e.tokens > r.maxTokens {
		e.tokens = r.maxTokens
	}

	if e.tokens > r.packetCost {
		e.tokens -= r.packetCost
		return true
	}
	return false
}
