/* SPDX-License-Identifier: MIT
 *
 * Adapted from golang.zx2c4.com/wireguard/fec/reedsolomon.go. Same
 * klauspost/reedsolomon backing, same shard-padding approach; renamed to
 * the fec.Shard vocabulary.
 */
package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

type rsProtector struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewReedSolomon protects dataShards fragments with parityShards parity
// shards, tolerating up to parityShards losses per frame.
func NewReedSolomon(dataShards, parityShards int) (Protector, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: create reed-solomon encoder: %w", err)
	}
	return &rsProtector{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

func (rs *rsProtector) Algorithm() Algorithm { return ReedSolomon }
func (rs *rsProtector) NumDataShards() int   { return rs.dataShards }
func (rs *rsProtector) NumParityShards() int { return rs.parityShards }
func (rs *rsProtector) TotalShards() int     { return rs.dataShards + rs.parityShards }

func (rs *rsProtector) Encode(source []Shard) ([]Shard, error) {
	if len(source) != rs.dataShards {
		return nil, fmt.Errorf("fec: rs encode expected %d shards, got %d", rs.dataShards, len(source))
	}

	maxLen := 0
	for _, s := range source {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	shards := make([][]byte, rs.dataShards+rs.parityShards)
	for i := 0; i < rs.dataShards; i++ {
		padded := make([]byte, maxLen)
		copy(padded, source[i])
		shards[i] = padded
	}
	for i := rs.dataShards; i < len(shards); i++ {
		shards[i] = make([]byte, maxLen)
	}

	if err := rs.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: reed-solomon encode: %w", err)
	}

	out := make([]Shard, len(shards))
	for i, s := range shards {
		out[i] = Shard(s)
	}
	return out, nil
}

func (rs *rsProtector) Decode(received []Shard) ([]Shard, error) {
	total := rs.dataShards + rs.parityShards
	if len(received) != total {
		return nil, fmt.Errorf("fec: rs decode expected %d shards, got %d", total, len(received))
	}

	shards := make([][]byte, total)
	missing := 0
	for i, s := range received {
		if s == nil {
			missing++
			continue
		}
		shards[i] = s
	}
	if missing > rs.parityShards {
		return nil, fmt.Errorf("fec: rs decode: %d shards missing, only %d parity available", missing, rs.parityShards)
	}

	if missing > 0 {
		if err := rs.enc.ReconstructData(shards); err != nil {
			return nil, fmt.Errorf("fec: reed-solomon reconstruct: %w", err)
		}
	}

	out := make([]Shard, rs.dataShards)
	for i := 0; i < rs.dataShards; i++ {
		out[i] = Shard(shards[i])
	}
	return out, nil
}
