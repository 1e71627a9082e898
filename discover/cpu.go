package discover

import (
	"log/slog"
	"runtime"
	"strings"
	"sync"
)

// CPUCapabilities describes the vector instruction sets of the host CPU that
// the KV cache copy kernels care about. The zero value means none are usable.
type CPUCapabilities struct {
	Arch string

	// amd64
	SSE2    bool
	AVX     bool
	AVX2    bool
	AVX512F bool

	// arm64
	ASIMD   bool
	ASIMDHP bool
	SVE     bool
}

// HasVector reports whether at least 128-bit vector loads and stores are
// available.
func (c CPUCapabilities) HasVector() bool {
	return c.SSE2 || c.ASIMD
}

// VectorWidth returns the register width in bytes used by the copy kernels,
// or 0 when only scalar code is available.
func (c CPUCapabilities) VectorWidth() int {
	switch {
	case c.AVX:
		return 32
	case c.HasVector():
		return 16
	default:
		return 0
	}
}

// Variant returns the name of the instruction set the copy kernels target,
// or "" when they fall back to scalar code.
func (c CPUCapabilities) Variant() string {
	switch {
	case c.AVX:
		return "avx"
	case c.SSE2:
		return "sse2"
	case c.ASIMD:
		return "neon"
	default:
		return ""
	}
}

func (c CPUCapabilities) String() string {
	var sb strings.Builder
	sb.WriteString(c.Arch)
	for _, f := range []struct {
		name string
		ok   bool
	}{
		{"sse2", c.SSE2},
		{"avx", c.AVX},
		{"avx2", c.AVX2},
		{"avx512f", c.AVX512F},
		{"asimd", c.ASIMD},
		{"asimdhp", c.ASIMDHP},
		{"sve", c.SVE},
	} {
		if f.ok {
			sb.WriteString(" ")
			sb.WriteString(f.name)
		}
	}
	return sb.String()
}

// GetCPUCapabilities probes the host CPU on first use and returns the same
// value on every later call.
var GetCPUCapabilities = sync.OnceValue(func() CPUCapabilities {
	c := detectCPU()
	c.Arch = runtime.GOARCH
	if c.HasVector() {
		slog.Debug("CPU has vector extensions", "capabilities", c.String())
	} else {
		slog.Debug("CPU does not have vector extensions", "arch", c.Arch)
	}
	return c
})
