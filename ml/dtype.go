package ml

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownDType = errors.New("unknown dtype")

// DType is the numeric encoding of a KV cache buffer. Elements are always
// moved as opaque fixed-width values; a DType never implies conversion.
type DType int

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeBF16
	DTypeOther
)

// DTypes lists every encoding the cache writer supports.
var DTypes = []DType{DTypeF32, DTypeF16, DTypeBF16}

// Size returns the width of one element in bytes, or 0 for DTypeOther.
func (d DType) Size() int {
	switch d {
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// ParseDType accepts the names produced by String as well as the long forms
// used by GGUF and safetensors metadata.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "fp32", "float32":
		return DTypeF32, nil
	case "f16", "fp16", "float16":
		return DTypeF16, nil
	case "bf16", "bfloat16":
		return DTypeBF16, nil
	default:
		return DTypeOther, fmt.Errorf("%w: %q", ErrUnknownDType, s)
	}
}

// ParseDTypes parses a comma separated list such as "f32,bf16".
func ParseDTypes(s string) ([]DType, error) {
	var dtypes []DType
	for _, field := range strings.Split(s, ",") {
		if strings.TrimSpace(field) == "" {
			continue
		}

		dtype, err := ParseDType(field)
		if err != nil {
			return nil, err
		}

		dtypes = append(dtypes, dtype)
	}

	if len(dtypes) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrUnknownDType)
	}

	return dtypes, nil
}
