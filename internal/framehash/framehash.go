// Package framehash detects unchanged frames without hashing the full
// buffer. A fixed number of evenly spaced bytes is sampled from the frame
// and digested with BLAKE3, so the cost per frame is constant regardless
// of resolution.
//
// The sampling makes the hash probabilistic: a change confined entirely
// to unsampled bytes goes undetected until the next real change. For
// duplicate suppression that trade is fine: a missed tiny delta costs
// one stale frame interval, while hashing multi-megabyte buffers at
// frame rate costs real CPU on every tick.
package framehash

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// sampleCount is the number of bytes sampled from the buffer.
const sampleCount = 64

// Sample returns the content hash of buf. Buffers shorter than
// sampleCount are hashed whole. The buffer length is mixed in so two
// buffers that agree on the sampled positions but differ in size still
// hash differently.
func Sample(buf []byte) uint64 {
	h := blake3.New()

	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], uint64(len(buf)))
	h.Write(lenBytes[:])

	if len(buf) <= sampleCount {
		h.Write(buf)
	} else {
		step := len(buf) / sampleCount
		var samples [sampleCount]byte
		for i := 0; i < sampleCount; i++ {
			samples[i] = buf[i*step]
		}
		h.Write(samples[:])
	}

	var digest [32]byte
	h.Sum(digest[:0])
	return binary.LittleEndian.Uint64(digest[:8])
}
