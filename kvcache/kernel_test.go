package kvcache

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/kvappend/discover"
	"github.com/ollama/kvappend/ml"
)

func randomBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

type shape struct {
	cacheLen, numTokens, numHeads, headDim int
}

func (s shape) String() string {
	return fmt.Sprintf("cacheLen=%d/tokens=%d/heads=%d/headDim=%d", s.cacheLen, s.numTokens, s.numHeads, s.headDim)
}

// runKernel appends random data described by s using k and returns the
// resulting caches. Caches have two spare rows past the append so that stray
// writes show up in the comparison.
func runKernel(t *testing.T, k Kernel, s shape, seed uint64) (keyCache, valueCache []byte) {
	t.Helper()

	r := rand.New(rand.NewPCG(seed, 0))
	rowSize := s.numHeads * s.headDim * k.DType.Size()
	capacity := (s.cacheLen + s.numTokens + 2) * rowSize

	keyCache = randomBytes(r, capacity)
	valueCache = randomBytes(r, capacity)
	key := randomBytes(r, s.numTokens*rowSize)
	value := randomBytes(r, s.numTokens*rowSize)

	require.NoError(t, Validate(k.DType, keyCache, valueCache, key, value, s.cacheLen, s.numTokens, s.numHeads, s.headDim))
	k.Append(keyCache, valueCache, key, value, s.cacheLen, s.numTokens, s.numHeads, s.headDim)
	return keyCache, valueCache
}

// hostVectorKernels returns every vector kernel the host can run for dtype,
// including narrower ones that dispatch passes over.
func hostVectorKernels(dtype ml.DType) []Kernel {
	c := discover.GetCPUCapabilities()

	var kernels []Kernel
	seen := make(map[string]bool)
	for _, caps := range []discover.CPUCapabilities{c, {SSE2: c.SSE2}, {ASIMD: c.ASIMD}} {
		for _, k := range vectorKernels(caps) {
			if k.DType == dtype && !seen[k.Name] {
				seen[k.Name] = true
				kernels = append(kernels, k)
			}
		}
	}
	return kernels
}

func TestVectorMatchesScalar(t *testing.T) {
	if len(hostVectorKernels(ml.DTypeF32)) == 0 {
		t.Skip("no vector kernels on this host")
	}

	var shapes []shape
	for _, heads := range []int{1, 2, 3, 8} {
		for _, headDim := range []int{1, 3, 4, 5, 7, 8, 15, 16, 17, 31, 64, 80, 128} {
			for _, tokens := range []int{0, 1, 3} {
				shapes = append(shapes, shape{cacheLen: 2, numTokens: tokens, numHeads: heads, headDim: headDim})
			}
		}
	}
	shapes = append(shapes,
		shape{cacheLen: 0, numTokens: 7, numHeads: 3, headDim: 5},
		shape{cacheLen: 5, numTokens: 16, numHeads: 8, headDim: 128},
	)

	for _, dtype := range ml.DTypes {
		scalar := ScalarKernel(dtype)
		for _, vector := range hostVectorKernels(dtype) {
			for i, s := range shapes {
				t.Run(vector.Name+"/"+s.String(), func(t *testing.T) {
					seed := uint64(i)
					wantK, wantV := runKernel(t, scalar, s, seed)
					gotK, gotV := runKernel(t, vector, s, seed)
					if diff := cmp.Diff(wantK, gotK); diff != "" {
						t.Errorf("key cache mismatch (-scalar +vector):\n%s", diff)
					}
					if diff := cmp.Diff(wantV, gotV); diff != "" {
						t.Errorf("value cache mismatch (-scalar +vector):\n%s", diff)
					}
				})
			}
		}
	}
}

func TestVectorLanes(t *testing.T) {
	cases := []struct {
		width int
		dtype ml.DType
		lanes int
	}{
		{16, ml.DTypeF32, 4},
		{16, ml.DTypeF16, 8},
		{16, ml.DTypeBF16, 8},
		{32, ml.DTypeF32, 8},
		{32, ml.DTypeF16, 16},
		{32, ml.DTypeBF16, 16},
	}

	for _, tt := range cases {
		k := newVectorKernel("test", tt.width, nil, tt.dtype)
		assert.Equal(t, tt.lanes, k.Lanes, "%d byte %v", tt.width, tt.dtype)
		assert.True(t, k.Vector())
	}

	assert.Equal(t, "test-bf16", newVectorKernel("test", 16, nil, ml.DTypeBF16).Name)
	assert.Panics(t, func() { newVectorKernel("test", 16, nil, ml.DTypeOther) })

	for _, dtype := range ml.DTypes {
		k := ScalarKernel(dtype)
		assert.Equal(t, 1, k.Lanes)
		assert.False(t, k.Vector())
	}
}

func allKernels(dtype ml.DType) []Kernel {
	return append([]Kernel{ScalarKernel(dtype)}, hostVectorKernels(dtype)...)
}

func TestKernelWritesOnlyTargetRows(t *testing.T) {
	const guard = 0xa5

	for _, s := range []shape{
		{cacheLen: 4, numTokens: 3, numHeads: 3, headDim: 5},
		{cacheLen: 1, numTokens: 2, numHeads: 2, headDim: 32},
	} {
		for _, dtype := range ml.DTypes {
			for _, k := range allKernels(dtype) {
				t.Run(k.Name+"/"+s.String(), func(t *testing.T) {
					rowSize := s.numHeads * s.headDim * dtype.Size()
					keyCache := make([]byte, (s.cacheLen+s.numTokens+2)*rowSize)
					valueCache := make([]byte, len(keyCache))
					for i := range keyCache {
						keyCache[i], valueCache[i] = guard, guard
					}

					r := rand.New(rand.NewPCG(1, 2))
					key := randomBytes(r, s.numTokens*rowSize)
					value := randomBytes(r, s.numTokens*rowSize)
					k.Append(keyCache, valueCache, key, value, s.cacheLen, s.numTokens, s.numHeads, s.headDim)

					begin, end := s.cacheLen*rowSize, (s.cacheLen+s.numTokens)*rowSize
					assert.Equal(t, key, keyCache[begin:end])
					assert.Equal(t, value, valueCache[begin:end])

					written := 0
					for i := range keyCache {
						if i >= begin && i < end {
							written++
							continue
						}
						require.Equal(t, byte(guard), keyCache[i], "key cache byte %d", i)
						require.Equal(t, byte(guard), valueCache[i], "value cache byte %d", i)
					}
					assert.Equal(t, s.numTokens*s.numHeads*s.headDim*dtype.Size(), written)
				})
			}
		}
	}
}

func TestKernelFillsCache(t *testing.T) {
	const numHeads, headDim, capacity = 3, 7, 5

	for _, dtype := range ml.DTypes {
		rowSize := numHeads * headDim * dtype.Size()
		r := rand.New(rand.NewPCG(5, 6))
		key := randomBytes(r, capacity*rowSize)
		value := randomBytes(r, capacity*rowSize)

		for _, k := range allKernels(dtype) {
			t.Run(k.Name, func(t *testing.T) {
				keyCache := make([]byte, capacity*rowSize)
				valueCache := make([]byte, capacity*rowSize)

				k.Append(keyCache, valueCache, key[:2*rowSize], value[:2*rowSize], 0, 2, numHeads, headDim)
				k.Append(keyCache, valueCache, key[2*rowSize:], value[2*rowSize:], 2, capacity-2, numHeads, headDim)

				assert.Equal(t, key, keyCache)
				assert.Equal(t, value, valueCache)
			})
		}
	}
}

func TestZeroTokenAppendTouchesNothing(t *testing.T) {
	for _, dtype := range ml.DTypes {
		for _, k := range allKernels(dtype) {
			assert.NotPanics(t, func() {
				k.Append(nil, nil, nil, nil, 1<<20, 0, 8, 128)
			}, k.Name)
		}

		assert.NotPanics(t, func() {
			Append(dtype, nil, nil, nil, nil, 1<<20, 0, 8, 128)
		}, dtype.String())
	}
}

func TestSelectKernels(t *testing.T) {
	t.Run("no capabilities", func(t *testing.T) {
		table := selectKernels(discover.CPUCapabilities{}, false)
		for _, dtype := range ml.DTypes {
			assert.Equal(t, "scalar-"+dtype.String(), table[dtype].Name)
		}
	})

	t.Run("novector", func(t *testing.T) {
		table := selectKernels(discover.GetCPUCapabilities(), true)
		for _, dtype := range ml.DTypes {
			assert.False(t, table[dtype].Vector(), dtype.String())
		}
	})

	t.Run("host", func(t *testing.T) {
		caps := discover.GetCPUCapabilities()
		table := selectKernels(caps, false)
		for _, dtype := range ml.DTypes {
			k := table[dtype]
			assert.Equal(t, dtype, k.DType)

			v, ok := VectorKernel(dtype)
			assert.Equal(t, ok, k.Vector())
			if ok {
				assert.Equal(t, caps.Variant()+"-"+dtype.String(), k.Name)
				assert.Equal(t, v.Name, k.Name)
				assert.Equal(t, caps.VectorWidth()/dtype.Size(), k.Lanes)
			}
		}
	})
}

func TestKernelForIsStable(t *testing.T) {
	for _, dtype := range ml.DTypes {
		first := KernelFor(dtype)
		for range 5 {
			assert.Equal(t, first.Name, KernelFor(dtype).Name)
		}
	}

	assert.Panics(t, func() { KernelFor(ml.DTypeOther) })
	assert.Panics(t, func() { KernelFor(ml.DType(-1)) })
	assert.Panics(t, func() { ScalarKernel(ml.DTypeOther) })
}
