package model

import "gonum.org/v1/gonum/floats"

// MinMaxScaler maps every column onto [0, 1] using the bounds seen during fitting.
// Values outside the training bounds extrapolate unless Clip is set.
type MinMaxScaler struct {
	Min  []float64 `json:"min"`
	Max  []float64 `json:"max"`
	Clip bool      `json:"clip"`
}

func fitScaler(rows [][]float64) MinMaxScaler {
	dims := len(rows[0])
	s := MinMaxScaler{
		Min: make([]float64, dims),
		Max: make([]float64, dims),
	}
	for j := range dims {
		values := column(rows, j)
		s.Min[j] = floats.Min(values)
		s.Max[j] = floats.Max(values)
	}
	return s
}

func column(rows [][]float64, j int) []float64 {
	values := make([]float64, len(rows))
	for i, row := range rows {
		values[i] = row[j]
	}
	return values
}

func (s MinMaxScaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		scale := s.Max[i] - s.Min[i]
		if scale == 0 {
			scale = 1 // constant column
		}
		t := (v - s.Min[i]) / scale
		if s.Clip {
			t = min(max(t, 0), 1)
		}
		out[i] = t
	}
	return out
}
