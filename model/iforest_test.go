package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}

func TestMinMaxScaler_Transform(t *testing.T) {
	scaler := fitScaler([][]float64{{0, 2}, {10, 2}, {5, 2}})
	assert.Equal(t, []float64{0, 2}, scaler.Min)
	assert.Equal(t, []float64{10, 2}, scaler.Max)

	assert.Equal(t, []float64{0.5, 0}, scaler.Transform([]float64{5, 2}))
	assert.Equal(t, []float64{2, 5}, scaler.Transform([]float64{20, 7})) // extrapolates

	scaler.Clip = true
	assert.Equal(t, []float64{1, 1}, scaler.Transform([]float64{20, 7}))
}

func TestQuantile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}

	assert.Equal(t, 1.0, quantile(values, 0))
	assert.Equal(t, 5.0, quantile(values, 1))
	median := quantile(values, 0.5)
	assert.GreaterOrEqual(t, median, 2.0)
	assert.LessOrEqual(t, median, 3.0)
	assert.LessOrEqual(t, quantile(values, 0.2), median)
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, values)
}

func TestTree_pathLength(t *testing.T) {
	tree := Tree{Nodes: []Node{
		{Feature: 1, Threshold: 0.5, Left: 1, Right: 2},
		{Left: -1, Right: -1, Size: 1},
		{Left: -1, Right: -1, Size: 2},
	}}

	assert.Equal(t, 1.0, tree.pathLength([]float64{0, 0.1}))
	assert.Equal(t, 2.0, tree.pathLength([]float64{0, 0.9}))
}
