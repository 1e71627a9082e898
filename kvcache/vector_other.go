//go:build (!amd64 && !arm64) || purego

package kvcache

import "github.com/ollama/kvappend/discover"

// Only scalar kernels are registered here.
func vectorKernels(discover.CPUCapabilities) []Kernel {
	return nil
}
