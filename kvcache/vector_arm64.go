//go:build !purego

package kvcache

import (
	"unsafe"

	"github.com/ollama/kvappend/discover"
)

//go:noescape
func moveNEON(dst, src unsafe.Pointer, n int)

func vectorKernels(c discover.CPUCapabilities) []Kernel {
	if !c.ASIMD {
		return nil
	}

	return newVectorKernels("neon", 16, moveNEON)
}
