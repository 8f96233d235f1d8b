package dataset

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestPreprocessOneHot(t *testing.T) {
	raw := RawExample{Image: []uint8{0, 128, 255, 51}, Shape: [3]int{2, 2, 1}, Label: []int{7}}
	ex, err := Preprocess(raw, 10)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0, 0, 1, 0, 0}, ex.OneHot)
	assert.Equal(t, float32(0), ex.Image[0])
	assert.Equal(t, float32(1), ex.Image[2])
	assert.InDelta(t, 0.2, ex.Image[3], 1e-7)
	assert.Equal(t, raw.Shape, ex.Shape)
}

func TestPreprocessIsDeterministic(t *testing.T) {
	raw := RawExample{Image: []uint8{1, 2, 3, 250}, Shape: [3]int{1, 4, 1}, Label: []int{3}}
	a, err := Preprocess(raw, 5)
	require.NoError(t, err)
	b, err := Preprocess(raw, 5)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, []uint8{1, 2, 3, 250}, raw.Image, "input must not be modified")
}

func TestPreprocessErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  RawExample
	}{
		{"label out of range", RawExample{Image: []uint8{0}, Shape: [3]int{1, 1, 1}, Label: []int{10}}},
		{"negative label", RawExample{Image: []uint8{0}, Shape: [3]int{1, 1, 1}, Label: []int{-1}}},
		{"label not scalar", RawExample{Image: []uint8{0}, Shape: [3]int{1, 1, 1}, Label: []int{1, 2}}},
		{"missing label", RawExample{Image: []uint8{0}, Shape: [3]int{1, 1, 1}}},
		{"image size mismatch", RawExample{Image: []uint8{0, 1}, Shape: [3]int{1, 1, 1}, Label: []int{0}}},
		{"zero shape", RawExample{Shape: [3]int{0, 1, 1}, Label: []int{0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Preprocess(tt.raw, 10)
			assert.Error(t, err)
		})
	}
}

func TestParseSplit(t *testing.T) {
	tests := []struct {
		in     string
		n      int
		lo, hi int
	}{
		{"test", 10000, 0, 10000},
		{"train[:90%]", 60000, 0, 54000},
		{"train[-10%:]", 60000, 54000, 60000},
		{"train[90%:]", 60000, 54000, 60000},
		{"train[:100]", 60000, 0, 100},
		{"train[10:20]", 60000, 10, 20},
		{"train[-5:]", 50, 45, 50},
		{"train[:33%]", 10, 0, 3},
		{"train[:35%]", 10, 0, 4}, // 3.5 rounds to the closest index
		{"train[:500]", 100, 0, 100},
		{"train[80:20]", 100, 80, 80},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sp, err := ParseSplit(tt.in)
			require.NoError(t, err)
			lo, hi := sp.Range(tt.n)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
			assert.Equal(t, tt.in, sp.String())
		})
	}
}

func TestParseSplitErrors(t *testing.T) {
	for _, s := range []string{"", "train[", "train[a:]", "train[:150%]", "train[1:2:3]", "[:10]"} {
		_, err := ParseSplit(s)
		assert.ErrorIs(t, err, ErrDataUnavailable, s)
	}
}

func TestTrainValidationSplitsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	opts := Options{Examples: 200, Seed: 3}

	trainP, err := Load(ctx, "synthetic", "train[:90%]", opts)
	require.NoError(t, err)
	valP, err := Load(ctx, "synthetic", "train[-10%:]", opts)
	require.NoError(t, err)

	train, err := trainP.Collect()
	require.NoError(t, err)
	val, err := valP.Collect()
	require.NoError(t, err)
	assert.Len(t, train, 180)
	assert.Len(t, val, 20)

	all, err := NewSynthetic(200, 3).Load(ctx, "train")
	require.NoError(t, err)
	assert.Equal(t, all[:180], train)
	assert.Equal(t, all[180:], val)
}

func TestLoadUnavailable(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name, dataset, split string
		opts                 Options
	}{
		{"unknown dataset", "cifar", "train", Options{}},
		{"unknown split", "synthetic", "validation", Options{}},
		{"empty selection", "synthetic", "train[50%:50%]", Options{Examples: 10}},
		{"mnist without dir", "mnist", "train", Options{}},
		{"mnist missing files", "mnist", "train", Options{DataDir: t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(ctx, tt.dataset, tt.split, tt.opts)
			assert.ErrorIs(t, err, ErrDataUnavailable)
		})
	}
}

func TestLoadHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, "synthetic", "train", Options{Examples: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMNISTReadsPlainAndGzipIDX(t *testing.T) {
	ctx := context.Background()
	examples, err := NewSynthetic(12, 9).Load(ctx, "train")
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteIDX(
		filepath.Join(dir, "train-images-idx3-ubyte"),
		filepath.Join(dir, "train-labels-idx1-ubyte"),
		examples))

	// The test split is only available compressed.
	require.NoError(t, WriteIDX(
		filepath.Join(dir, "t10k-images"),
		filepath.Join(dir, "t10k-labels"),
		examples[:4]))
	gzipFileTo(t, filepath.Join(dir, "t10k-images"), filepath.Join(dir, "t10k-images-idx3-ubyte.gz"))
	gzipFileTo(t, filepath.Join(dir, "t10k-labels"), filepath.Join(dir, "t10k-labels-idx1-ubyte.gz"))

	train, err := Load(ctx, "mnist", "train[:50%]", Options{DataDir: dir})
	require.NoError(t, err)
	got, err := train.Collect()
	require.NoError(t, err)
	assert.Equal(t, examples[:6], got)

	test, err := NewMNIST(dir).Load(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, examples[:4], test)
}

func TestMNISTRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train-images-idx3-ubyte"), make([]byte, 16), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train-labels-idx1-ubyte"), make([]byte, 8), 0o644))
	_, err := NewMNIST(dir).Load(context.Background(), "train")
	assert.ErrorContains(t, err, "invalid magic number")
}

func gzipFileTo(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	f, err := os.Create(dst)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestSyntheticIsDeterministic(t *testing.T) {
	ctx := context.Background()
	a, err := NewSynthetic(20, 5).Load(ctx, "train")
	require.NoError(t, err)
	b, err := NewSynthetic(20, 5).Load(ctx, "train")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	test, err := NewSynthetic(20, 5).Load(ctx, "test")
	require.NoError(t, err)
	assert.Len(t, test, 4)
	assert.NotEqual(t, a[:4], test)
}

func TestPipelineIsRestartable(t *testing.T) {
	p := Map(FromSlice(ints(5)), func(i int) int { return i * 2 })
	first, err := p.Collect()
	require.NoError(t, err)
	second, err := p.Collect()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 6, 8}, first)
	assert.Equal(t, first, second)
}

func TestShuffleIsSeededPermutation(t *testing.T) {
	p := FromSlice(ints(100)).Shuffle(16, 42)

	epoch1, err := p.Collect()
	require.NoError(t, err)
	epoch2, err := p.Collect()
	require.NoError(t, err)

	assert.NotEqual(t, ints(100), epoch1)
	assert.NotEqual(t, epoch1, epoch2, "each pass reseeds")
	assert.ElementsMatch(t, ints(100), epoch1)
	assert.ElementsMatch(t, ints(100), epoch2)

	// A fresh pipeline with the same seed replays the same sequence.
	replay, err := FromSlice(ints(100)).Shuffle(16, 42).Collect()
	require.NoError(t, err)
	assert.Equal(t, epoch1, replay)
}

func TestShuffleBufferBoundsDisplacement(t *testing.T) {
	// An element can only be emitted once it has entered the buffer.
	out, err := FromSlice(ints(50)).Shuffle(4, 1).Collect()
	require.NoError(t, err)
	for pos, v := range out {
		assert.LessOrEqual(t, v, pos+4)
	}
}

func TestBatch(t *testing.T) {
	got, err := Batch(FromSlice(ints(7)), 3, false).Collect()
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}, {6}}, got)

	got, err = Batch(FromSlice(ints(7)), 3, true).Collect()
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}}, got)
}

func TestTake(t *testing.T) {
	got, err := FromSlice(ints(10)).Take(3).Collect()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Zero(t, FromSlice(ints(10)).Take(0).Count())
}

func TestPrefetchPreservesOrder(t *testing.T) {
	got, err := FromSlice(ints(100)).Prefetch(4).Collect()
	require.NoError(t, err)
	assert.Equal(t, ints(100), got)
}

func TestPrefetchStopsOnBreak(t *testing.T) {
	produced := 0
	src := Map(FromSlice(ints(1000)), func(i int) int {
		produced++
		return i
	})
	var got []int
	for v := range src.Prefetch(2).All() {
		got = append(got, v)
		if len(got) == 5 {
			break
		}
	}
	// The producer has exited by the time the loop returns, so this read
	// does not race with it.
	assert.Equal(t, ints(5), got)
	assert.Less(t, produced, 1000)
}

func TestMapErrStopsPass(t *testing.T) {
	p := Preprocessed(FromSlice([]RawExample{
		{Image: []uint8{255}, Shape: [3]int{1, 1, 1}, Label: []int{1}},
		{Image: []uint8{255}, Shape: [3]int{1, 1, 1}, Label: []int{99}},
		{Image: []uint8{255}, Shape: [3]int{1, 1, 1}, Label: []int{2}},
	}), 3)
	got, err := p.Collect()
	assert.ErrorContains(t, err, "out of range")
	assert.Len(t, got, 1)
}

func TestBatchesCollate(t *testing.T) {
	raw, err := NewSynthetic(10, 1).Load(context.Background(), "train")
	require.NoError(t, err)
	batches, err := Batches(Preprocessed(FromSlice(raw), 10), 4, false).Collect()
	require.NoError(t, err)
	require.Len(t, batches, 3)

	b := batches[0]
	assert.Equal(t, 4, b.Size())
	assert.Equal(t, []int{4, 28, 28, 1}, []int(b.Images.Shape()))
	assert.Equal(t, []int{4, 10}, []int(b.Labels.Shape()))
	assert.Equal(t, 2, batches[2].Size())

	row := b.Labels.Data()[10:20]
	assert.Equal(t, raw[1].Label[0], slices.Index(row, 1))
}

func TestCollateRejectsMixedShapes(t *testing.T) {
	_, err := Collate([]Example{
		{Image: []float32{0}, Shape: [3]int{1, 1, 1}, OneHot: []float32{1, 0}},
		{Image: []float32{0, 0}, Shape: [3]int{1, 2, 1}, OneHot: []float32{1, 0}},
	})
	assert.Error(t, err)
	_, err = Collate(nil)
	assert.Error(t, err)
}
