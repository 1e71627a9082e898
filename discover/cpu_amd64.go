package discover

import "golang.org/x/sys/cpu"

// SSE2 is part of the amd64 baseline, but report what CPUID says.
func detectCPU() CPUCapabilities {
	return CPUCapabilities{
		SSE2:    cpu.X86.HasSSE2,
		AVX:     cpu.X86.HasAVX,
		AVX2:    cpu.X86.HasAVX2,
		AVX512F: cpu.X86.HasAVX512F,
	}
}
