/* SPDX-License-Identifier: MIT
 *
 * Adapted from golang.zx2c4.com/wireguard/fec/raptorq.go. The teacher's
 * own implementation admits a significant simplification here: the
 * Protector interface has no notion of per-symbol encoding IDs, so on
 * decode this treats a received shard's slice index as its symbol ID.
 * That holds for shards carried in-order over ShortRange's framed,
 * ordered serial link (this package's only caller), but would not hold
 * if shards could arrive out of order or be dropped from the front —
 * the teacher's comments flag the same caveat and it is preserved
 * rather than hidden.
 */
package fec

import (
	"fmt"

	"github.com/xssnick/raptorq"
)

type rqProtector struct {
	rq               raptorq.RaptorQ
	numSourceSymbols uint
	symbolSize       uint16
}

// NewRaptorQ creates a fountain-code protector over numSourceShards shards
// of at most symbolSize bytes each. Unlike XOR or Reed-Solomon, RaptorQ has
// no fixed parity count: Encode produces as many repair symbols as asked
// for, and Decode can succeed from any sufficiently large subset.
func NewRaptorQ(numSourceShards int, symbolSize uint16) (Protector, error) {
	if numSourceShards <= 0 {
		return nil, fmt.Errorf("fec: raptorq source shard count must be positive")
	}
	if symbolSize == 0 {
		return nil, fmt.Errorf("fec: raptorq symbol size must be positive")
	}
	return &rqProtector{
		rq:               raptorq.NewRaptorQ(symbolSize),
		numSourceSymbols: uint(numSourceShards),
		symbolSize:       symbolSize,
	}, nil
}

func (r *rqProtector) Algorithm() Algorithm { return RaptorQ }
func (r *rqProtector) NumDataShards() int   { return int(r.numSourceSymbols) }

// NumParityShards has no fixed value for a fountain code; Encode is asked
// to generate exactly numSourceSymbols repair symbols (source + repair =
// 2x overhead), matching the teacher's own "K data, K repair" default.
func (r *rqProtector) NumParityShards() int { return int(r.numSourceSymbols) }
func (r *rqProtector) TotalShards() int     { return int(r.numSourceSymbols) * 2 }

func (r *rqProtector) Encode(source []Shard) ([]Shard, error) {
	if len(source) != int(r.numSourceSymbols) {
		return nil, fmt.Errorf("fec: raptorq encode expected %d shards, got %d", r.numSourceSymbols, len(source))
	}

	payload := make([]byte, 0, int(r.numSourceSymbols)*int(r.symbolSize))
	for i, s := range source {
		if s == nil {
			return nil, fmt.Errorf("fec: raptorq encode: shard %d is nil", i)
		}
		if len(s) > int(r.symbolSize) {
			return nil, fmt.Errorf("fec: raptorq encode: shard %d length %d exceeds symbol size %d", i, len(s), r.symbolSize)
		}
		padded := make([]byte, r.symbolSize)
		copy(padded, s)
		payload = append(payload, padded...)
	}

	enc, err := r.rq.CreateEncoder(payload)
	if err != nil {
		return nil, fmt.Errorf("fec: raptorq create encoder: %w", err)
	}

	total := int(r.numSourceSymbols) * 2
	out := make([]Shard, 0, total)
	for i := uint32(0); i < uint32(total); i++ {
		out = append(out, Shard(enc.GenSymbol(i)))
	}
	return out, nil
}

// Decode assumes received[i] carries the symbol with encoding ID i, which
// holds for shards transported in order without reordering. A nil entry
// marks an erasure and is skipped.
func (r *rqProtector) Decode(received []Shard) ([]Shard, error) {
	payloadLen := uint64(r.numSourceSymbols) * uint64(r.symbolSize)
	dec, err := r.rq.CreateDecoder(payloadLen)
	if err != nil {
		return nil, fmt.Errorf("fec: raptorq create decoder: %w", err)
	}

	added := 0
	for i, s := range received {
		if s == nil {
			continue
		}
		symbolID := uint32(i)
		canTry, err := dec.AddSymbol(symbolID, s)
		if err != nil {
			continue
		}
		added++
		if !canTry {
			continue
		}
		success, result, err := dec.Decode()
		if err != nil {
			return nil, fmt.Errorf("fec: raptorq decode attempt: %w", err)
		}
		if !success {
			continue
		}
		out := make([]Shard, r.numSourceSymbols)
		for j := 0; j < int(r.numSourceSymbols); j++ {
			start := j * int(r.symbolSize)
			end := start + int(r.symbolSize)
			if end > len(result) {
				return nil, fmt.Errorf("fec: raptorq decode: reconstructed payload too short")
			}
			out[j] = Shard(result[start:end])
		}
		return out, nil
	}
	return nil, fmt.Errorf("fec: raptorq decode: failed to reconstruct from %d added symbols", added)
}
