package kvcache

import (
	"errors"
	"fmt"

	"github.com/ollama/kvappend/ml"
)

// ErrInvalidAppend is the panic value (wrapped) raised by kvcachedebug builds
// when an append breaks the caller contract.
var ErrInvalidAppend = errors.New("invalid kv cache append")

// checkAppend panics if an append would read or write outside the given
// slices. It is only called when built with the kvcachedebug tag; release
// builds keep the undefined behavior of a raw copy.
func checkAppend(dtype ml.DType, keyCache, valueCache, key, value []byte, cacheLen, numTokens, numHeads, headDim int) {
	if err := Validate(dtype, keyCache, valueCache, key, value, cacheLen, numTokens, numHeads, headDim); err != nil {
		panic(err)
	}
}

// Validate reports whether an append with these arguments stays inside the
// given slices. Callers that cannot guarantee the contract up front can use it
// before calling Append; Append itself never validates in release builds.
func Validate(dtype ml.DType, keyCache, valueCache, key, value []byte, cacheLen, numTokens, numHeads, headDim int) error {
	width := dtype.Size()
	switch {
	case width == 0:
		return fmt.Errorf("kvcache: %w: %v", ml.ErrUnknownDType, dtype)
	case numHeads <= 0 || headDim <= 0:
		return fmt.Errorf("kvcache: %w: numHeads=%d headDim=%d", ErrInvalidAppend, numHeads, headDim)
	case cacheLen < 0 || numTokens < 0:
		return fmt.Errorf("kvcache: %w: cacheLen=%d numTokens=%d", ErrInvalidAppend, cacheLen, numTokens)
	}

	rowSize := numHeads * headDim * width
	for _, b := range []struct {
		name string
		buf  []byte
		need int
	}{
		{"key", key, numTokens * rowSize},
		{"value", value, numTokens * rowSize},
		{"key cache", keyCache, (cacheLen + numTokens) * rowSize},
		{"value cache", valueCache, (cacheLen + numTokens) * rowSize},
	} {
		if len(b.buf) < b.need {
			return fmt.Errorf("kvcache: %w: %s has %d bytes, need %d (%v, cacheLen=%d numTokens=%d headSize=%d)",
				ErrInvalidAppend, b.name, len(b.buf), b.need, dtype, cacheLen, numTokens, numHeads*headDim)
		}
	}

	return nil
}
