// Package bfloat16 provides the brain floating point element type stored in
// bf16 KV caches. Only the encoding is defined here; arithmetic happens in
// float32.
package bfloat16

import "math"

// BF16 holds the upper 16 bits of an IEEE 754 float32.
type BF16 uint16

func (b BF16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

func (b BF16) Bits() uint16 {
	return uint16(b)
}

// FromFloat32 truncates f to bf16.
func FromFloat32(f float32) BF16 {
	return BF16(math.Float32bits(f) >> 16)
}

func FromFloat32s(f32s []float32) []BF16 {
	out := make([]BF16, len(f32s))
	for i, f := range f32s {
		out[i] = FromFloat32(f)
	}
	return out
}

func Float32s(bf16s []BF16) []float32 {
	out := make([]float32, len(bf16s))
	for i, b := range bf16s {
		out[i] = b.Float32()
	}
	return out
}
