// Package kvcache appends newly computed key and value vectors to
// caller-owned, per-layer KV cache buffers.
//
// Buffers are laid out as [maxTokens][numHeads][headDim] in a single dtype.
// An append copies numTokens rows from key and value to rows
// [cacheLen, cacheLen+numTokens) of keyCache and valueCache. The package
// never allocates, resizes or validates buffers: the caller keeps
// cacheLen+numTokens within capacity and serializes appends to the same
// buffer. Build with -tags kvcachedebug to turn contract violations into
// panics.
package kvcache

import (
	"unsafe"

	"github.com/x448/float16"

	"github.com/ollama/kvappend/envconfig"
	"github.com/ollama/kvappend/logutil"
	"github.com/ollama/kvappend/ml"
	"github.com/ollama/kvappend/types/bfloat16"
)

// AppendF32 appends numTokens rows of float32 keys and values at token
// offset cacheLen.
func AppendF32(keyCache, valueCache, key, value []float32, cacheLen, numTokens, numHeads, headDim int) {
	Append(ml.DTypeF32, bytesOf(keyCache), bytesOf(valueCache), bytesOf(key), bytesOf(value), cacheLen, numTokens, numHeads, headDim)
}

// AppendF16 is AppendF32 for IEEE 754 half precision caches.
func AppendF16(keyCache, valueCache, key, value []float16.Float16, cacheLen, numTokens, numHeads, headDim int) {
	Append(ml.DTypeF16, bytesOf(keyCache), bytesOf(valueCache), bytesOf(key), bytesOf(value), cacheLen, numTokens, numHeads, headDim)
}

// AppendBF16 is AppendF32 for bfloat16 caches.
func AppendBF16(keyCache, valueCache, key, value []bfloat16.BF16, cacheLen, numTokens, numHeads, headDim int) {
	Append(ml.DTypeBF16, bytesOf(keyCache), bytesOf(valueCache), bytesOf(key), bytesOf(value), cacheLen, numTokens, numHeads, headDim)
}

// Append is the dtype-tagged form of AppendF32, AppendF16 and AppendBF16 for
// buffers held as raw bytes. It panics if dtype is not a KV cache dtype.
func Append(dtype ml.DType, keyCache, valueCache, key, value []byte, cacheLen, numTokens, numHeads, headDim int) {
	k := KernelFor(dtype)
	if envconfig.Trace {
		logutil.Trace("kv cache append", "kernel", k.Name, "cacheLen", cacheLen, "numTokens", numTokens, "numHeads", numHeads, "headDim", headDim)
	}

	k.Append(keyCache, valueCache, key, value, cacheLen, numTokens, numHeads, headDim)
}

type element interface {
	float32 | float16.Float16 | bfloat16.BF16
}

// bytesOf reinterprets s as its underlying bytes without copying.
func bytesOf[E element](s []E) []byte {
	if len(s) == 0 {
		return nil
	}

	var e E
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(e)))
}
