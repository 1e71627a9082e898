//go:build !purego

package kvcache

import (
	"unsafe"

	"github.com/ollama/kvappend/discover"
)

//go:noescape
func moveSSE2(dst, src unsafe.Pointer, n int)

//go:noescape
func moveAVX(dst, src unsafe.Pointer, n int)

func vectorKernels(c discover.CPUCapabilities) []Kernel {
	switch {
	case c.AVX:
		return newVectorKernels("avx", 32, moveAVX)
	case c.SSE2:
		return newVectorKernels("sse2", 16, moveSSE2)
	default:
		return nil
	}
}
