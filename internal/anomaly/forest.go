// Package anomaly implements an isolation-forest scorer over fixed-order
// feature vectors. Points that are easy to isolate via random recursive
// partitioning (short average path) score close to 1; typical points score
// lower. Scores are normalized to [0,1] with the standard path-length
// normalization.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the
	// dimensionality the forest was fitted on. This is a schema defect
	// caught upstream, never swallowed.
	ErrDimensionMismatch = errors.New("feature vector dimension mismatch")

	// ErrNoTrainingData is returned when Fit is called with an empty set.
	ErrNoTrainingData = errors.New("no training data")
)

// Config holds forest hyperparameters. These are tuning choices: any values
// keeping the score in [0,1] are acceptable.
type Config struct {
	Trees         int   // number of trees in the ensemble
	SubsampleSize int   // samples drawn per tree
	Seed          int64 // 0 means nondeterministic
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{Trees: 100, SubsampleSize: 256}
}

// treeNode is one node of an isolation tree. Leaf nodes carry the number of
// samples that ended there so truncated paths can be extended by c(size).
type treeNode struct {
	splitAttr int
	splitVal  float64
	left      *treeNode
	right     *treeNode
	size      int // leaf only
}

// Forest is a fitted isolation forest. Immutable after Fit.
type Forest struct {
	trees []*treeNode
	dim   int
	psi   int // effective subsample size, drives normalization
}

// Fit builds a forest from the training matrix. All rows must share the same
// dimensionality.
func Fit(data [][]float64, cfg Config) (*Forest, error) {
	if len(data) == 0 {
		return nil, ErrNoTrainingData
	}
	dim := len(data[0])
	for i, row := range data {
		if len(row) != dim {
			return nil, fmt.Errorf("row %d has %d columns, want %d: %w", i, len(row), dim, ErrDimensionMismatch)
		}
	}
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultConfig().Trees
	}
	if cfg.SubsampleSize <= 0 {
		cfg.SubsampleSize = DefaultConfig().SubsampleSize
	}

	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Seed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	psi := cfg.SubsampleSize
	if psi > len(data) {
		psi = len(data)
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	f := &Forest{
		trees: make([]*treeNode, cfg.Trees),
		dim:   dim,
		psi:   psi,
	}
	for t := 0; t < cfg.Trees; t++ {
		sample := subsample(data, psi, rng)
		f.trees[t] = buildTree(sample, 0, heightLimit, rng)
	}
	return f, nil
}

// Dim returns the vector dimensionality the forest was fitted on.
func (f *Forest) Dim() int {
	return f.dim
}

// Score returns the anomaly score for one vector in [0,1].
func (f *Forest) Score(vec []float64) (float64, error) {
	if len(vec) != f.dim {
		return 0, fmt.Errorf("got %d columns, forest fitted on %d: %w", len(vec), f.dim, ErrDimensionMismatch)
	}

	var sum float64
	for _, root := range f.trees {
		sum += pathLength(root, vec, 0)
	}
	avg := sum / float64(len(f.trees))

	// s(x, psi) = 2^(-E[h(x)] / c(psi))
	return math.Pow(2, -avg/avgPathLength(f.psi)), nil
}

func subsample(data [][]float64, psi int, rng *rand.Rand) [][]float64 {
	if psi >= len(data) {
		out := make([][]float64, len(data))
		copy(out, data)
		return out
	}
	idx := rng.Perm(len(data))[:psi]
	out := make([][]float64, psi)
	for i, j := range idx {
		out[i] = data[j]
	}
	return out
}

func buildTree(sample [][]float64, depth, heightLimit int, rng *rand.Rand) *treeNode {
	if depth >= heightLimit || len(sample) <= 1 {
		return &treeNode{size: len(sample)}
	}

	attr, lo, hi, ok := pickSplitAttr(sample, rng)
	if !ok {
		// every remaining column is constant
		return &treeNode{size: len(sample)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range sample {
		if row[attr] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &treeNode{
		splitAttr: attr,
		splitVal:  split,
		left:      buildTree(left, depth+1, heightLimit, rng),
		right:     buildTree(right, depth+1, heightLimit, rng),
	}
}

// pickSplitAttr chooses a random attribute that still varies in the sample.
func pickSplitAttr(sample [][]float64, rng *rand.Rand) (attr int, lo, hi float64, ok bool) {
	dim := len(sample[0])
	for _, attr := range rng.Perm(dim) {
		lo, hi := sample[0][attr], sample[0][attr]
		for _, row := range sample {
			if row[attr] < lo {
				lo = row[attr]
			}
			if row[attr] > hi {
				hi = row[attr]
			}
		}
		if hi > lo {
			return attr, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

func pathLength(n *treeNode, vec []float64, depth int) float64 {
	if n.left == nil && n.right == nil {
		// truncated path: extend by the expected depth of a subtree
		// holding size samples
		return float64(depth) + avgPathLength(n.size)
	}
	if vec[n.splitAttr] < n.splitVal {
		return pathLength(n.left, vec, depth+1)
	}
	return pathLength(n.right, vec, depth+1)
}

const eulerMascheroni = 0.5772156649

// avgPathLength is c(n): the average path length of an unsuccessful BST
// search among n samples. c(n) = 2H(n-1) - 2(n-1)/n.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}
