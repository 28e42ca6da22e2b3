/* SPDX-License-Identifier: MIT
 *
 * Adapted from golang.zx2c4.com/wireguard/fec/xor.go. Renamed Packet to
 * Shard (see fec.go) but otherwise the same single-parity-shard scheme:
 * cheapest possible FEC, tolerates exactly one missing shard.
 */
package fec

import "fmt"

type xorProtector struct {
	dataShards int
}

// NewXOR protects dataShards fragments with a single XOR parity shard.
func NewXOR(dataShards int) (Protector, error) {
	if dataShards <= 0 {
		return nil, fmt.Errorf("fec: xor data shards must be positive")
	}
	return &xorProtector{dataShards: dataShards}, nil
}

func (x *xorProtector) Algorithm() Algorithm  { return XOR }
func (x *xorProtector) NumDataShards() int    { return x.dataShards }
func (x *xorProtector) NumParityShards() int  { return 1 }
func (x *xorProtector) TotalShards() int      { return x.dataShards + 1 }

func (x *xorProtector) Encode(source []Shard) ([]Shard, error) {
	if len(source) != x.dataShards {
		return nil, fmt.Errorf("fec: xor encode expected %d shards, got %d", x.dataShards, len(source))
	}

	maxLen := 0
	for _, s := range source {
		if s == nil {
			return nil, fmt.Errorf("fec: xor encode got a nil source shard")
		}
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	parity := make(Shard, maxLen)
	for _, s := range source {
		for i := 0; i < len(s); i++ {
			parity[i] ^= s[i]
		}
	}

	out := make([]Shard, x.dataShards+1)
	copy(out, source)
	out[x.dataShards] = parity
	return out, nil
}

func (x *xorProtector) Decode(received []Shard) ([]Shard, error) {
	if len(received) != x.dataShards+1 {
		return nil, fmt.Errorf("fec: xor decode expected %d shards, got %d", x.dataShards+1, len(received))
	}

	missing := -1
	maxLen := 0
	for i, s := range received {
		if s == nil {
			if missing != -1 {
				return nil, fmt.Errorf("fec: xor decode cannot reconstruct more than one missing shard")
			}
			missing = i
			continue
		}
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	if missing == -1 {
		return received[:x.dataShards], nil
	}

	reconstructed := make(Shard, maxLen)
	for i, s := range received {
		if i == missing {
			continue
		}
		for j := 0; j < len(s); j++ {
			reconstructed[j] ^= s[j]
		}
	}

	out := make([]Shard, x.dataShards)
	copy(out, received[:x.dataShards])
	if missing < x.dataShards {
		out[missing] = reconstructed
	}
	return out, nil
}
