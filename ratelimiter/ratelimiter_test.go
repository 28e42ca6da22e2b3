/* SPDX-License-Identifier: GPL-2.0 */
package ratelimiter

import (
	"testing"
	"time"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

func TestRatelimiterAllowsBurstThenBlocks(t *testing.T) {
	r := New(20, 5, time.Second)
	defer r.Close()

	var key types.NodeId
	key[0] = 1

	allowed := 0
	for i := 0; i < 10; i++ {
		if r.Allow(key) {
			allowed++
		}
	}
	if allowed == 0 {
		t.Fatal("expected at least the initial burst to be allowed")
	}
	if allowed == 10 {
		t.Fatal("expected the limiter to eventually deny a rapid burst")
	}
}

func TestRatelimiterKeysAreIndependent(t *testing.T) {
	r := New(1, 1, time.Second)
	defer r.Close()

	var a, b types.NodeId
	a[0] = 1
	b[0] = 2

	if !r.Allow(a) {
		t.Fatal("expected first request for key a to be allowed")
	}
	if !r.Allow(b) {
		t.Fatal("expected first request for key b to be allowed regardless of a's state")
	}
}
