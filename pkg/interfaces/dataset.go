package interfaces

// Dataset is a map-style collection of windowed samples. Item returns the
// input window (rows are time steps, columns channels) and the target window.
type Dataset interface {
	Len() int
	Item(i int) (x, y [][]float64)
}

// DatasetBuilder is implemented by custom datasets that derive their samples
// from the series handed to an estimator. Estimators call BuildDataset before
// reading any sample.
type DatasetBuilder interface {
	BuildDataset(values [][]float64) error
}
