package dataset

import (
	"fmt"
	"math/rand"

	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// Batch holds stacked inputs [B][SeqLen][C] and targets [B][PredLen][C]
type Batch struct {
	X *nn.Tensor
	Y *nn.Tensor
}

// Loader groups dataset samples into batches. The last batch of an epoch may
// be smaller than BatchSize.
type Loader struct {
	Dataset   interfaces.Dataset
	BatchSize int
	Shuffle   bool

	rng *rand.Rand
}

// NewLoader creates a loader. rng drives shuffling and may be nil when
// shuffle is off.
func NewLoader(ds interfaces.Dataset, batchSize int, shuffle bool, rng *rand.Rand) *Loader {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Loader{Dataset: ds, BatchSize: batchSize, Shuffle: shuffle, rng: rng}
}

// NumBatches returns the number of batches per epoch
func (l *Loader) NumBatches() int {
	n := l.Dataset.Len()
	return (n + l.BatchSize - 1) / l.BatchSize
}

// Batches returns one epoch of batches
func (l *Loader) Batches() ([]Batch, error) {
	if l.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", l.BatchSize)
	}
	n := l.Dataset.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	batches := make([]Batch, 0, l.NumBatches())
	for start := 0; start < n; start += l.BatchSize {
		end := min(start+l.BatchSize, n)
		xs := make([][][]float64, 0, end-start)
		ys := make([][][]float64, 0, end-start)
		for _, idx := range order[start:end] {
			x, y := l.Dataset.Item(idx)
			if len(xs) > 0 && (len(x) != len(xs[0]) || len(y) != len(ys[0])) {
				return nil, fmt.Errorf("sample %d has window lengths %d/%d, expected %d/%d",
					idx, len(x), len(y), len(xs[0]), len(ys[0]))
			}
			xs = append(xs, x)
			ys = append(ys, y)
		}
		batches = append(batches, Batch{X: nn.Stack(xs), Y: nn.Stack(ys)})
	}
	return batches, nil
}
