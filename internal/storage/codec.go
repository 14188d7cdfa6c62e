package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Float arrays are stored as little-endian float64 blobs.

func encodeFloats(x []float64) []byte {
	b := make([]byte, 8*len(x))
	for i, v := range x {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

func decodeFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("float blob of %d bytes is not a multiple of 8", len(b))
	}
	x := make([]float64, len(b)/8)
	for i := range x {
		x[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return x, nil
}

// encodeMatrix flattens rows of equal length.
func encodeMatrix(rows [][]float64) []byte {
	if len(rows) == 0 {
		return nil
	}
	n := len(rows[0])
	b := make([]byte, 8*n*len(rows))
	for r, row := range rows {
		for i, v := range row {
			binary.LittleEndian.PutUint64(b[8*(r*n+i):], math.Float64bits(v))
		}
	}
	return b
}

func decodeMatrix(b []byte, nrows, ncols int) ([][]float64, error) {
	flat, err := decodeFloats(b)
	if err != nil {
		return nil, err
	}
	if len(flat) != nrows*ncols {
		return nil, fmt.Errorf("matrix blob holds %d values, want %dx%d", len(flat), nrows, ncols)
	}
	rows := make([][]float64, nrows)
	for r := range rows {
		rows[r] = flat[r*ncols : (r+1)*ncols : (r+1)*ncols]
	}
	return rows, nil
}

func encodeInt8s(x []int8) []byte {
	b := make([]byte, len(x))
	for i, v := range x {
		b[i] = byte(v)
	}
	return b
}

func decodeInt8s(b []byte) []int8 {
	x := make([]int8, len(b))
	for i, v := range b {
		x[i] = int8(v)
	}
	return x
}
