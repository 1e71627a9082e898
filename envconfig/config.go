package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ollama/kvappend/logutil"
)

var (
	// Set via KVAPPEND_DEBUG in the environment
	Debug bool
	// Set via KVAPPEND_NOVECTOR in the environment
	NoVector bool
	// Set via KVAPPEND_TRACE in the environment
	Trace bool
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"KVAPPEND_DEBUG":    {"KVAPPEND_DEBUG", Debug, "Show additional debug information (e.g. KVAPPEND_DEBUG=1)"},
		"KVAPPEND_NOVECTOR": {"KVAPPEND_NOVECTOR", NoVector, "Use the scalar copy kernels even when vector instructions are available"},
		"KVAPPEND_TRACE":    {"KVAPPEND_TRACE", Trace, "Log every kernel dispatch at trace level"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// LogLevel returns the slog level implied by Debug and Trace.
func LogLevel() slog.Level {
	switch {
	case Trace:
		return logutil.LevelTrace
	case Debug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

// boolVar parses key as a bool. Any non-empty value that is not a valid bool
// counts as true so that KVAPPEND_DEBUG=yes behaves as expected.
func boolVar(key string) bool {
	s := clean(key)
	if s == "" {
		return false
	}

	b, err := strconv.ParseBool(s)
	if err != nil {
		return true
	}

	return b
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	Debug = boolVar("KVAPPEND_DEBUG")
	NoVector = boolVar("KVAPPEND_NOVECTOR")
	Trace = boolVar("KVAPPEND_TRACE")

	if Trace && !Debug {
		Debug = true
	}
}
