package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const eulerGamma = 0.5772156649015329

// IsolationForest holds fitted isolation trees. Anomalous points need fewer random splits to be isolated.
type IsolationForest struct {
	SampleSize int    `json:"sampleSize"`
	Trees      []Tree `json:"trees"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split node or, when Left is negative, a leaf holding Size training samples.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"n"`
}

func (n Node) isLeaf() bool {
	return n.Left < 0
}

// AnomalyScore returns s(x) in (0, 1]. Scores close to 1 indicate anomalies.
func (f IsolationForest) AnomalyScore(x []float64) float64 {
	lengths := make([]float64, len(f.Trees))
	for i, tree := range f.Trees {
		lengths[i] = tree.pathLength(x)
	}
	return math.Pow(2, -stat.Mean(lengths, nil)/averagePathLength(f.SampleSize))
}

func (t Tree) pathLength(x []float64) float64 {
	depth := 0
	i := 0
	for {
		node := t.Nodes[i]
		if node.isLeaf() {
			return float64(depth) + averagePathLength(node.Size)
		}
		if x[node.Feature] < node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
		depth++
	}
}

// averagePathLength is the average path length of an unsuccessful binary search tree lookup among n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func (f IsolationForest) validate(dims int) error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	if f.SampleSize < 1 {
		return fmt.Errorf("invalid sample size [%d]", f.SampleSize)
	}
	for ti, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree [%d] has no nodes", ti)
		}
		for ni, node := range tree.Nodes {
			if node.isLeaf() {
				continue
			}
			// children are stored after their parent, so walking a tree always terminates
			if node.Left <= ni || node.Right <= ni || node.Left >= len(tree.Nodes) || node.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree [%d] node [%d] has invalid children", ti, ni)
			}
			if node.Feature < 0 || node.Feature >= dims {
				return fmt.Errorf("tree [%d] node [%d] splits on unknown feature [%d]", ti, ni, node.Feature)
			}
		}
	}
	return nil
}

type treeBuilder struct {
	rng      *rand.Rand
	maxDepth int
	nodes    []Node
}

func buildTree(rng *rand.Rand, points [][]float64, maxDepth int) Tree {
	b := treeBuilder{rng: rng, maxDepth: maxDepth}
	b.grow(points, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(points [][]float64, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: len(points)})
	if depth >= b.maxDepth || len(points) <= 1 {
		return idx
	}

	for _, feature := range b.rng.Perm(len(points[0])) {
		lo, hi := bounds(points, feature)
		if lo == hi {
			continue
		}

		threshold := lo + b.rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, p := range points {
			if p[feature] < threshold {
				left = append(left, p)
			} else {
				right = append(right, p)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}

		l := b.grow(left, depth+1)
		r := b.grow(right, depth+1)
		b.nodes[idx].Feature = feature
		b.nodes[idx].Threshold = threshold
		b.nodes[idx].Left = l
		b.nodes[idx].Right = r
		return idx
	}

	// all remaining points are identical
	return idx
}

func bounds(points [][]float64, feature int) (float64, float64) {
	values := column(points, feature)
	return floats.Min(values), floats.Max(values)
}
