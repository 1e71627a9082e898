package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ollama/kvappend/format"
	"github.com/ollama/kvappend/kvcache"
	"github.com/ollama/kvappend/ml"
)

type benchOptions struct {
	DType    ml.DType
	NumHeads int
	HeadDim  int
	Layers   int
	Tokens   int
	Batch    int
	Parallel int
}

type benchResult struct {
	Kernel  string
	Bytes   int64
	Elapsed time.Duration
}

func (o benchOptions) rowSize() int {
	return o.NumHeads * o.HeadDim * o.DType.Size()
}

// layer is one layer's key and value cache, sized for the whole run the way
// the inference runtime sizes them for the context length.
type layer struct {
	keys, values []byte
}

// benchKernels resolves the --kernel flag.
func benchKernels(dtype ml.DType, name string) ([]kvcache.Kernel, error) {
	switch name {
	case "auto":
		return []kvcache.Kernel{kvcache.KernelFor(dtype)}, nil
	case "scalar":
		return []kvcache.Kernel{kvcache.ScalarKernel(dtype)}, nil
	case "vector":
		k, ok := kvcache.VectorKernel(dtype)
		if !ok {
			return nil, fmt.Errorf("no vector kernel for %v on this CPU", dtype)
		}
		return []kvcache.Kernel{k}, nil
	case "all":
		kernels := []kvcache.Kernel{kvcache.ScalarKernel(dtype)}
		if k, ok := kvcache.VectorKernel(dtype); ok {
			kernels = append(kernels, k)
		}
		return kernels, nil
	default:
		return nil, fmt.Errorf("unknown kernel %q, expected auto, scalar, vector or all", name)
	}
}

// bench appends opts.Tokens tokens to every layer in batches of opts.Batch.
// Each layer is written by a single goroutine.
func bench(ctx context.Context, k kvcache.Kernel, opts benchOptions) (benchResult, error) {
	rowSize := opts.rowSize()
	capacity := opts.Tokens * rowSize

	r := rand.New(rand.NewPCG(uint64(opts.Tokens), uint64(opts.Layers)))
	key := payload(r, opts.DType, opts.Batch*rowSize/opts.DType.Size())
	value := payload(r, opts.DType, opts.Batch*rowSize/opts.DType.Size())

	layers := make([]layer, opts.Layers)
	for i := range layers {
		layers[i] = layer{keys: make([]byte, capacity), values: make([]byte, capacity)}
	}

	last := opts.Tokens - (opts.Tokens-1)%opts.Batch - 1
	if err := kvcache.Validate(opts.DType, layers[0].keys, layers[0].values, key, value, last, opts.Tokens-last, opts.NumHeads, opts.HeadDim); err != nil {
		return benchResult{}, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)

	start := time.Now()
	for _, l := range layers {
		g.Go(func() error {
			for pos := 0; pos < opts.Tokens; pos += opts.Batch {
				if err := ctx.Err(); err != nil {
					return err
				}

				n := min(opts.Batch, opts.Tokens-pos)
				k.Append(l.keys, l.values, key[:n*rowSize], value[:n*rowSize], pos, n, opts.NumHeads, opts.HeadDim)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}

	return benchResult{
		Kernel:  k.Name,
		Bytes:   2 * int64(opts.Layers) * int64(capacity),
		Elapsed: time.Since(start),
	}, nil
}

func BenchHandler(cmd *cobra.Command, args []string) error {
	var opts benchOptions

	name, err := cmd.Flags().GetString("dtype")
	if err != nil {
		return err
	}

	if opts.DType, err = ml.ParseDType(name); err != nil {
		return err
	}

	for _, f := range []struct {
		name string
		dst  *int
		min  int
	}{
		{"heads", &opts.NumHeads, 1},
		{"head-dim", &opts.HeadDim, 1},
		{"layers", &opts.Layers, 1},
		{"tokens", &opts.Tokens, 1},
		{"batch", &opts.Batch, 1},
		{"parallel", &opts.Parallel, 0},
	} {
		if *f.dst, err = cmd.Flags().GetInt(f.name); err != nil {
			return err
		}

		if *f.dst < f.min {
			return fmt.Errorf("--%s must be at least %d", f.name, f.min)
		}
	}

	if opts.Parallel < 1 {
		opts.Parallel = runtime.GOMAXPROCS(0)
	}

	kernel, err := cmd.Flags().GetString("kernel")
	if err != nil {
		return err
	}

	kernels, err := benchKernels(opts.DType, kernel)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	slog.Info("starting benchmark", "run", runID, "dtype", opts.DType, "heads", opts.NumHeads, "head_dim", opts.HeadDim,
		"layers", opts.Layers, "tokens", opts.Tokens, "batch", opts.Batch, "parallel", opts.Parallel,
		"cache", format.HumanBytes2(uint64(2*opts.Layers*opts.Tokens*opts.rowSize())))

	var rows [][]string
	for _, k := range kernels {
		result, err := bench(cmd.Context(), k, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", k.Name, err)
		}

		slog.Debug("benchmark finished", "run", runID, "kernel", result.Kernel, "elapsed", result.Elapsed)
		rows = append(rows, []string{
			result.Kernel,
			strconv.Itoa(k.Lanes),
			format.HumanBytes(result.Bytes),
			result.Elapsed.Round(time.Microsecond).String(),
			format.HumanRate(result.Bytes, result.Elapsed),
			(result.Elapsed / time.Duration(opts.Tokens)).String(),
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", runID)
	writeTable(cmd.OutOrStdout(), []string{"KERNEL", "LANES", "WRITTEN", "ELAPSED", "THROUGHPUT", "PER TOKEN"}, rows)
	return nil
}
