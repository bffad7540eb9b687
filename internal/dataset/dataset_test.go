package dataset

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/errors"
)

func ramp(n, channels int) [][]float64 {
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, channels)
		for c := range values[i] {
			values[i][c] = float64(i*10 + c)
		}
	}
	return values
}

func TestWindowDatasetLength(t *testing.T) {
	tests := []struct {
		n, seqLen, predLen, want int
	}{
		{20, 5, 3, 13},
		{8, 5, 3, 1},
		{7, 5, 3, 0},
		{2, 5, 3, 0},
	}
	for _, tt := range tests {
		ds, err := NewWindowDataset(ramp(tt.n, 1), tt.seqLen, tt.predLen, false)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ds.Len(), "n=%d", tt.n)
	}
}

func TestWindowDatasetItem(t *testing.T) {
	ds, err := NewWindowDataset(ramp(10, 2), 3, 2, false)
	require.NoError(t, err)

	x, y := ds.Item(4)
	require.Len(t, x, 3)
	require.Len(t, y, 2)
	assert.Equal(t, []float64{40, 41}, x[0])
	assert.Equal(t, []float64{60, 61}, x[2])
	assert.Equal(t, []float64{70, 71}, y[0])
	assert.Equal(t, []float64{80, 81}, y[1])
}

func TestWindowDatasetValidation(t *testing.T) {
	_, err := NewWindowDataset(ramp(10, 1), 0, 2, false)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

func TestStandardScaler(t *testing.T) {
	values := [][]float64{{1, 5}, {2, 5}, {3, 5}}
	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform(values)
	require.NoError(t, err)

	// population std of 1,2,3 is sqrt(2/3)
	assert.InDelta(t, -1.224744871, scaled[0][0], 1e-8)
	assert.InDelta(t, 0, scaled[1][0], 1e-12)
	// constant channel: zero std is treated as one
	assert.Equal(t, 0.0, scaled[2][1])

	back := scaler.InverseTransform(scaled)
	for i := range values {
		assert.InDeltaSlice(t, values[i], back[i], 1e-12)
	}
}

func TestScalerMethods(t *testing.T) {
	values := [][]float64{{0}, {2}, {4}, {6}, {8}}

	minmax := NewDataScaler("minmax")
	out, err := minmax.FitTransform(values)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out[0][0])
	assert.Equal(t, 1.0, out[4][0])

	robust := NewDataScaler("robust")
	require.NoError(t, robust.Fit(values))
	assert.Equal(t, "robust", robust.Method())
	assert.Equal(t, 0.0, robust.Transform([][]float64{{4}})[0][0])

	err = NewDataScaler("log").Fit(values)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scaler type")
}

func TestScalerState(t *testing.T) {
	scaler := NewStandardScaler()
	assert.Nil(t, scaler.State())
	require.NoError(t, scaler.Fit(ramp(5, 2)))

	restored, err := NewScalerFromState(scaler.State())
	require.NoError(t, err)
	probe := [][]float64{{3, 7}}
	assert.Equal(t, scaler.Transform(probe), restored.Transform(probe))

	scaler.Reset()
	assert.False(t, scaler.IsFitted())
	assert.Equal(t, probe, scaler.Transform(probe))
}

func TestScaledDataset(t *testing.T) {
	ds, err := NewWindowDataset(ramp(10, 1), 3, 1, true)
	require.NoError(t, err)
	require.NotNil(t, ds.Scaler())

	sum := 0.0
	for _, row := range ds.Values() {
		sum += row[0]
	}
	assert.InDelta(t, 0, sum, 1e-9)
}

func TestLoaderBatches(t *testing.T) {
	ds, err := NewWindowDataset(ramp(12, 2), 3, 2, false)
	require.NoError(t, err)
	require.Equal(t, 8, ds.Len())

	loader := NewLoader(ds, 3, false, nil)
	assert.Equal(t, 3, loader.NumBatches())
	batches, err := loader.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, 3, batches[0].X.B)
	assert.Equal(t, 2, batches[2].X.B)
	assert.Equal(t, 3, batches[0].X.T)
	assert.Equal(t, 2, batches[0].Y.T)
	assert.Equal(t, 2, batches[0].X.C)
	assert.Equal(t, 10.0, batches[0].X.At(1, 0, 0))
}

func TestLoaderShuffleCoversEverySample(t *testing.T) {
	ds, err := NewWindowDataset(ramp(30, 1), 2, 1, false)
	require.NoError(t, err)
	loader := NewLoader(ds, 4, true, rand.New(rand.NewSource(3)))

	batches, err := loader.Batches()
	require.NoError(t, err)
	seen := map[float64]bool{}
	for _, b := range batches {
		for i := 0; i < b.X.B; i++ {
			seen[b.X.At(i, 0, 0)] = true
		}
	}
	assert.Len(t, seen, ds.Len())
}

type incompleteDataset struct{}

func (incompleteDataset) Len() int { return 0 }

func (incompleteDataset) Item(int) ([][]float64, [][]float64) { return nil, nil }

type customDataset struct {
	incompleteDataset
	built int
}

func (c *customDataset) BuildDataset(values [][]float64) error {
	c.built = len(values)
	return nil
}

func TestBuildRequiresBuildDataset(t *testing.T) {
	err := Build(incompleteDataset{}, ramp(4, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BuildDataset")
	assert.Equal(t, errors.ErrorTypeNotImplemented, errors.GetType(err))
	assert.ErrorIs(t, err, errors.ErrNotImplemented)

	custom := &customDataset{}
	require.NoError(t, Build(custom, ramp(4, 1)))
	assert.Equal(t, 4, custom.built)
}
