package kvcache

import (
	"unsafe"

	"github.com/ollama/kvappend/ml"
)

// moveFunc copies n bytes from src to dst with whole vector loads and stores.
// n must be a multiple of the register width. Implementations are written in
// assembly, one per instruction set.
type moveFunc func(dst, src unsafe.Pointer, n int)

// newVectorKernels returns a kernel for every dtype that moves width bytes
// per instruction.
func newVectorKernels(variant string, width int, move moveFunc) []Kernel {
	kernels := make([]Kernel, 0, len(ml.DTypes))
	for _, dtype := range ml.DTypes {
		kernels = append(kernels, newVectorKernel(variant, width, move, dtype))
	}
	return kernels
}

func newVectorKernel(variant string, width int, move moveFunc, dtype ml.DType) Kernel {
	elem := dtype.Size()
	if elem == 0 || width%elem != 0 {
		panic("kvcache: no vector kernel for " + dtype.String())
	}

	return Kernel{
		Name:  variant + "-" + dtype.String(),
		DType: dtype,
		Lanes: width / elem,
		copy: func(dst, src []byte, cacheLen, numTokens, headSize int) {
			copyRowsVector(move, width, elem, dst, src, cacheLen, numTokens, headSize)
		},
	}
}

// copyRowsVector copies each row as a run of whole vectors followed by the
// headSize%lanes remaining elements, one element at a time. Rows without a
// remainder are contiguous in both buffers and go out in a single run.
func copyRowsVector(move moveFunc, width, elem int, dst, src []byte, cacheLen, numTokens, headSize int) {
	rowSize := headSize * elem
	n := numTokens * rowSize
	if n == 0 {
		return
	}

	// the only bounds checks on the path
	d := unsafe.Pointer(unsafe.SliceData(dst[cacheLen*rowSize : cacheLen*rowSize+n]))
	s := unsafe.Pointer(unsafe.SliceData(src[:n]))

	body := rowSize - rowSize%width
	if body == rowSize {
		move(d, s, n)
		return
	}

	for t := range numTokens {
		drow, srow := unsafe.Add(d, t*rowSize), unsafe.Add(s, t*rowSize)
		if body > 0 {
			move(drow, srow, body)
		}

		switch elem {
		case 4:
			for i := body; i < rowSize; i += 4 {
				*(*[4]byte)(unsafe.Add(drow, i)) = *(*[4]byte)(unsafe.Add(srow, i))
			}
		case 2:
			for i := body; i < rowSize; i += 2 {
				*(*[2]byte)(unsafe.Add(drow, i)) = *(*[2]byte)(unsafe.Add(srow, i))
			}
		}
	}
}
