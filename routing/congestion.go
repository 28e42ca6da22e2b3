/* SPDX-License-Identifier: MIT
 *
 * Congestion detection per spec.md §4.6: a ring of the last 10 measured
 * latencies per next hop (rings are keyed by next hop, not by
 * destination); if the mean of the last 3 exceeds the mean
 * of the prior N by more than 50%, congestion[next_hop] is set to the
 * relative increase, decaying by x0.9 every 10s. The two windowed means
 * are computed with eclesh/welford the way the teacher's own ptp/c4u
 * clock math package (facebook-time) streams mean/variance instead of
 * hand-rolling summation.
 */
package routing

import (
	"sync"

	"github.com/eclesh/welford"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

const congestionRingSize = 10

type congestionTracker struct {
	mu     sync.Mutex
	rings  map[types.NodeId][]float64 // latest at the end
	levels map[types.NodeId]float64
}

func newCongestionTracker() *congestionTracker {
	return &congestionTracker{
		rings:  make(map[types.NodeId][]float64),
		levels: make(map[types.NodeId]float64),
	}
}

// observe records a new latency measurement for nextHop and recomputes
// its congestion level.
func (c *congestionTracker) observe(nextHop types.NodeId, latencyMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := append(c.rings[nextHop], latencyMs)
	if len(ring) > congestionRingSize {
		ring = ring[len(ring)-congestionRingSize:]
	}
	c.rings[nextHop] = ring

	if len(ring) < 4 {
		return
	}

	recent := ring[len(ring)-3:]
	prior := ring[:len(ring)-3]

	recentMean := windowMean(recent)
	priorMean := windowMean(prior)
	if priorMean <= 0 {
		return
	}

	relativeIncrease := (recentMean - priorMean) / priorMean
	if relativeIncrease > 0.5 {
		c.levels[nextHop] = relativeIncrease
	}
}

func windowMean(samples []float64) float64 {
	s := welford.New()
	for _, v := range samples {
		s.Add(v)
	}
	return s.Mean()
}

// decay multiplies every tracked congestion level by 0.9; called every
// 10s by the owning Router.
func (c *congestionTracker) decay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.levels {
		next := v * 0.9
		if next < 0.01 {
			delete(c.levels, k)
			continue
		}
		c.levels[k] = next
	}
}

func (c *congestionTracker) level(nextHop types.NodeId) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels[nextHop]
}
