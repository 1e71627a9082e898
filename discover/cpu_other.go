//go:build !amd64 && !arm64

package discover

func detectCPU() CPUCapabilities {
	return CPUCapabilities{}
}
