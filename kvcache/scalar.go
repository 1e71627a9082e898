package kvcache

import "github.com/ollama/kvappend/ml"

func scalarKernel(dtype ml.DType) Kernel {
	width := dtype.Size()
	return Kernel{
		Name:  "scalar-" + dtype.String(),
		DType: dtype,
		Lanes: 1,
		copy: func(dst, src []byte, cacheLen, numTokens, headSize int) {
			copyRows(dst, src, cacheLen, numTokens, headSize*width)
		},
	}
}

// copyRows is the reference copy every other kernel must match byte for byte.
func copyRows(dst, src []byte, cacheLen, numTokens, rowSize int) {
	for t := range numTokens {
		base := (cacheLen + t) * rowSize
		copy(dst[base:base+rowSize], src[t*rowSize:(t+1)*rowSize])
	}
}
