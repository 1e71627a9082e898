package cmd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/d4l3k/go-bfloat16"
	"github.com/spf13/cobra"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"

	"github.com/ollama/kvappend/kvcache"
	"github.com/ollama/kvappend/ml"
)

var ErrMismatch = errors.New("kernel output mismatch")

type verifyOptions struct {
	DTypes     []ml.DType
	MaxHeads   int
	MaxHeadDim int
	MaxTokens  int
	Seed       uint64
}

type verifyResult struct {
	DType    ml.DType
	Dispatch string
	Vector   string
	Cases    int
}

// payload returns n random elements of dtype encoded as little endian bytes.
func payload(r *rand.Rand, dtype ml.DType, n int) []byte {
	f32s := make([]float32, n)
	for i := range f32s {
		f32s[i] = r.Float32()*2 - 1
	}

	switch dtype {
	case ml.DTypeF32:
		b := make([]byte, 4*n)
		for i, f := range f32s {
			binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
		}
		return b
	case ml.DTypeF16:
		b := make([]byte, 2*n)
		for i, f := range f32s {
			binary.LittleEndian.PutUint16(b[2*i:], float16.Fromfloat32(f).Bits())
		}
		return b
	case ml.DTypeBF16:
		return bfloat16.EncodeFloat32(f32s)
	default:
		panic(fmt.Errorf("%w: %v", ml.ErrUnknownDType, dtype))
	}
}

type verifyCase struct {
	dtype                                  ml.DType
	cacheLen, numTokens, numHeads, headDim int
}

func (c verifyCase) String() string {
	return fmt.Sprintf("%v cacheLen=%d numTokens=%d numHeads=%d headDim=%d", c.dtype, c.cacheLen, c.numTokens, c.numHeads, c.headDim)
}

// check runs every kernel available for c.dtype over the same random input
// and compares the results against the scalar kernel. Zero-token appends
// must leave the caches untouched and split appends must match single ones.
func check(r *rand.Rand, c verifyCase, kernels []kvcache.Kernel) error {
	rowSize := c.numHeads * c.headDim * c.dtype.Size()
	capacity := (c.cacheLen + c.numTokens + 1) * rowSize

	keyCache := payload(r, c.dtype, capacity/c.dtype.Size())
	valueCache := payload(r, c.dtype, capacity/c.dtype.Size())
	key := payload(r, c.dtype, c.numTokens*rowSize/c.dtype.Size())
	value := payload(r, c.dtype, c.numTokens*rowSize/c.dtype.Size())

	if err := kvcache.Validate(c.dtype, keyCache, valueCache, key, value, c.cacheLen, c.numTokens, c.numHeads, c.headDim); err != nil {
		return err
	}

	run := func(fn func(k, v []byte)) ([]byte, []byte) {
		k, v := slices.Clone(keyCache), slices.Clone(valueCache)
		fn(k, v)
		return k, v
	}

	scalar := kvcache.ScalarKernel(c.dtype)
	wantK, wantV := run(func(k, v []byte) {
		scalar.Append(k, v, key, value, c.cacheLen, c.numTokens, c.numHeads, c.headDim)
	})

	begin, end := c.cacheLen*rowSize, (c.cacheLen+c.numTokens)*rowSize
	if !slices.Equal(wantK[begin:end], key) || !slices.Equal(wantV[begin:end], value) ||
		!slices.Equal(wantK[:begin], keyCache[:begin]) || !slices.Equal(wantK[end:], keyCache[end:]) ||
		!slices.Equal(wantV[:begin], valueCache[:begin]) || !slices.Equal(wantV[end:], valueCache[end:]) {
		return fmt.Errorf("%w: %s: %s wrote outside [%d, %d)", ErrMismatch, c, scalar.Name, begin, end)
	}

	for _, kernel := range kernels {
		gotK, gotV := run(func(k, v []byte) {
			kernel.Append(k, v, key, value, c.cacheLen, c.numTokens, c.numHeads, c.headDim)
		})
		if !slices.Equal(wantK, gotK) || !slices.Equal(wantV, gotV) {
			return fmt.Errorf("%w: %s: %s differs from %s", ErrMismatch, c, kernel.Name, scalar.Name)
		}

		gotK, gotV = run(func(k, v []byte) {
			kernel.Append(k, v, key, value, c.cacheLen+c.numTokens, 0, c.numHeads, c.headDim)
		})
		if !slices.Equal(keyCache, gotK) || !slices.Equal(valueCache, gotV) {
			return fmt.Errorf("%w: %s: %s modified the cache on a zero-token append", ErrMismatch, c, kernel.Name)
		}

		split := c.numTokens / 2
		gotK, gotV = run(func(k, v []byte) {
			kernel.Append(k, v, key[:split*rowSize], value[:split*rowSize], c.cacheLen, split, c.numHeads, c.headDim)
			kernel.Append(k, v, key[split*rowSize:], value[split*rowSize:], c.cacheLen+split, c.numTokens-split, c.numHeads, c.headDim)
		})
		if !slices.Equal(wantK, gotK) || !slices.Equal(wantV, gotV) {
			return fmt.Errorf("%w: %s: %s split at %d differs from a single append", ErrMismatch, c, kernel.Name, split)
		}
	}

	gotK, gotV := run(func(k, v []byte) {
		kvcache.Append(c.dtype, k, v, key, value, c.cacheLen, c.numTokens, c.numHeads, c.headDim)
	})
	if !slices.Equal(wantK, gotK) || !slices.Equal(wantV, gotV) {
		return fmt.Errorf("%w: %s: dispatch to %s differs from %s", ErrMismatch, c, kvcache.KernelFor(c.dtype).Name, scalar.Name)
	}

	return nil
}

func verify(ctx context.Context, opts verifyOptions) ([]verifyResult, error) {
	results := make([]verifyResult, len(opts.DTypes))

	g, ctx := errgroup.WithContext(ctx)
	for i, dtype := range opts.DTypes {
		g.Go(func() error {
			kernels := []kvcache.Kernel{kvcache.ScalarKernel(dtype)}
			result := verifyResult{DType: dtype, Dispatch: kvcache.KernelFor(dtype).Name, Vector: "-"}
			if k, ok := kvcache.VectorKernel(dtype); ok {
				kernels = append(kernels, k)
				result.Vector = k.Name
			}

			r := rand.New(rand.NewPCG(opts.Seed, uint64(dtype)))
			for numHeads := 1; numHeads <= opts.MaxHeads; numHeads++ {
				if err := ctx.Err(); err != nil {
					return err
				}

				for headDim := 1; headDim <= opts.MaxHeadDim; headDim++ {
					for numTokens := 0; numTokens <= opts.MaxTokens; numTokens++ {
						c := verifyCase{
							dtype:     dtype,
							cacheLen:  r.IntN(4),
							numTokens: numTokens,
							numHeads:  numHeads,
							headDim:   headDim,
						}
						if err := check(r, c, kernels); err != nil {
							return err
						}
						result.Cases++
					}
				}
			}

			slog.Debug("verified", "dtype", dtype, "cases", result.Cases, "dispatch", result.Dispatch)

			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func VerifyHandler(cmd *cobra.Command, args []string) error {
	dtypes, err := cmd.Flags().GetString("dtype")
	if err != nil {
		return err
	}

	opts := verifyOptions{}
	if opts.DTypes, err = ml.ParseDTypes(dtypes); err != nil {
		return err
	}

	if opts.MaxHeads, err = cmd.Flags().GetInt("max-heads"); err != nil {
		return err
	}

	if opts.MaxHeadDim, err = cmd.Flags().GetInt("max-head-dim"); err != nil {
		return err
	}

	if opts.MaxTokens, err = cmd.Flags().GetInt("max-tokens"); err != nil {
		return err
	}

	if opts.Seed, err = cmd.Flags().GetUint64("seed"); err != nil {
		return err
	}

	if opts.MaxHeads < 1 || opts.MaxHeadDim < 1 || opts.MaxTokens < 0 {
		return fmt.Errorf("invalid verify limits: max-heads=%d max-head-dim=%d max-tokens=%d", opts.MaxHeads, opts.MaxHeadDim, opts.MaxTokens)
	}

	results, err := verify(cmd.Context(), opts)
	if err != nil {
		return err
	}

	var rows [][]string
	for _, r := range results {
		rows = append(rows, []string{r.DType.String(), r.Dispatch, r.Vector, strconv.Itoa(r.Cases), "ok"})
	}

	writeTable(cmd.OutOrStdout(), []string{"DTYPE", "DISPATCH", "VECTOR", "CASES", "RESULT"}, rows)
	return nil
}
