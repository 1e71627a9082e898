package kvcache

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ollama/kvappend/discover"
	"github.com/ollama/kvappend/envconfig"
	"github.com/ollama/kvappend/ml"
)

// copyFunc copies numTokens rows of headSize elements from src into dst
// starting at row cacheLen.
type copyFunc func(dst, src []byte, cacheLen, numTokens, headSize int)

// Kernel is one copy strategy for one dtype. All kernels for a dtype write
// identical bytes; they differ only in how the bytes are moved.
type Kernel struct {
	Name  string
	DType ml.DType

	// Lanes is the number of elements moved by one instruction, 1 for the
	// scalar kernels.
	Lanes int

	copy copyFunc
}

// Vector reports whether k moves more than one element per instruction.
func (k Kernel) Vector() bool {
	return k.Lanes > 1
}

// Append writes numTokens tokens from key and value into keyCache and
// valueCache at token offset cacheLen. All slices hold k.DType elements laid
// out as [tokens][numHeads][headDim]. A zero-token append returns without
// touching any slice. Nothing is validated unless the package is built with
// the kvcachedebug tag.
func (k Kernel) Append(keyCache, valueCache, key, value []byte, cacheLen, numTokens, numHeads, headDim int) {
	if numTokens == 0 {
		return
	}

	if debugChecks {
		checkAppend(k.DType, keyCache, valueCache, key, value, cacheLen, numTokens, numHeads, headDim)
	}

	headSize := numHeads * headDim
	k.copy(keyCache, key, cacheLen, numTokens, headSize)
	k.copy(valueCache, value, cacheLen, numTokens, headSize)
}

type kernelTable [ml.DTypeOther]Kernel

func selectKernels(c discover.CPUCapabilities, noVector bool) kernelTable {
	var table kernelTable
	for _, dtype := range ml.DTypes {
		table[dtype] = scalarKernel(dtype)
	}

	if !noVector {
		for _, k := range vectorKernels(c) {
			table[k.DType] = k
		}
	}

	for _, k := range table {
		slog.Debug("kv cache kernel", "dtype", k.DType, "kernel", k.Name, "lanes", k.Lanes)
	}

	return table
}

var kernels = sync.OnceValue(func() kernelTable {
	return selectKernels(discover.GetCPUCapabilities(), envconfig.NoVector)
})

// KernelFor returns the kernel used by Append for dtype. The choice is made
// once per process and never changes afterwards.
func KernelFor(dtype ml.DType) Kernel {
	if dtype < 0 || dtype >= ml.DTypeOther {
		panic(fmt.Errorf("kvcache: %w: %v", ml.ErrUnknownDType, dtype))
	}
	return kernels()[dtype]
}

// ScalarKernel returns the portable reference kernel for dtype.
func ScalarKernel(dtype ml.DType) Kernel {
	if dtype.Size() == 0 {
		panic(fmt.Errorf("kvcache: %w: %v", ml.ErrUnknownDType, dtype))
	}
	return scalarKernel(dtype)
}

// VectorKernel returns the vector kernel for dtype if the host CPU supports
// one, regardless of KVAPPEND_NOVECTOR.
func VectorKernel(dtype ml.DType) (Kernel, bool) {
	for _, k := range vectorKernels(discover.GetCPUCapabilities()) {
		if k.DType == dtype {
			return k, true
		}
	}
	return Kernel{}, false
}
