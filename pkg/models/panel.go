package models

import "fmt"

// Panel is a collection of equal-length multivariate series used by the
// regressors: Instances[n][d][m] holds instance n, dimension d, time point m.
type Panel struct {
	Instances [][][]float64 `json:"instances"`
}

// NewPanel wraps instances after checking that every instance has the same
// number of dimensions and time points.
func NewPanel(instances [][][]float64) (*Panel, error) {
	p := &Panel{Instances: instances}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Shape returns (instances, dimensions, length)
func (p *Panel) Shape() (n, d, m int) {
	if p == nil || len(p.Instances) == 0 {
		return 0, 0, 0
	}
	n = len(p.Instances)
	d = len(p.Instances[0])
	if d > 0 {
		m = len(p.Instances[0][0])
	}
	return n, d, m
}

// Validate checks that the panel is rectangular and non-empty
func (p *Panel) Validate() error {
	n, d, m := p.Shape()
	if n == 0 || d == 0 || m == 0 {
		return fmt.Errorf("panel must have at least one instance, dimension and time point")
	}
	for i, inst := range p.Instances {
		if len(inst) != d {
			return fmt.Errorf("instance %d has %d dimensions, expected %d", i, len(inst), d)
		}
		for j, dim := range inst {
			if len(dim) != m {
				return fmt.Errorf("instance %d dimension %d has length %d, expected %d", i, j, len(dim), m)
			}
		}
	}
	return nil
}

// TimeMajor returns instance i transposed to [m][d], the layout the
// sequence layers consume.
func (p *Panel) TimeMajor(i int) [][]float64 {
	_, d, m := p.Shape()
	out := make([][]float64, m)
	for t := 0; t < m; t++ {
		row := make([]float64, d)
		for c := 0; c < d; c++ {
			row[c] = p.Instances[i][c][t]
		}
		out[t] = row
	}
	return out
}
