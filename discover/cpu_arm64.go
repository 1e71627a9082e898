package discover

import "golang.org/x/sys/cpu"

func detectCPU() CPUCapabilities {
	return CPUCapabilities{
		// Advanced SIMD is mandatory on ARMv8-A. Some platforms do not expose
		// the HWCAP bit, so don't rely on cpu.ARM64.HasASIMD alone.
		ASIMD:   true,
		ASIMDHP: cpu.ARM64.HasASIMDHP,
		SVE:     cpu.ARM64.HasSVE,
	}
}
