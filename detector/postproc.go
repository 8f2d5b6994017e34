/*
 * SPDX-License-Identifier: Unlicense
 *
 * This is free and unencumbered software released into the public domain.
 *
 * Anyone is free to copy, modify, publish, use, compile, sell, or distribute this
 * software, either in source code form or as a compiled binary, for any purpose,
 * commercial or non-commercial, and by any means.
 *
 * For more information, please refer to <http://unlicense.org/>
 */

package detector

// outputLayout gives row/channel access to a raw output tensor regardless of
// whether the exporter transposed it.
type outputLayout interface {
	rows() int
	at(row, channel int) float32
}

// channelsFirst is [1, C, N]: every channel is a contiguous run of N values.
type channelsFirst struct {
	data []float32
	n    int
}

func (l channelsFirst) rows() int                   { return l.n }
func (l channelsFirst) at(row, channel int) float32 { return l.data[channel*l.n+row] }

// channelsLast is [1, N, C]: every row is a contiguous run of C values.
type channelsLast struct {
	data []float32
	n, c int
}

func (l channelsLast) rows() int                   { return l.n }
func (l channelsLast) at(row, channel int) float32 { return l.data[row*l.c+channel] }

func newOutputLayout(raw Tensor, channels int) (outputLayout, error) {
	if len(raw.Shape) != 3 || raw.Shape[0] != 1 {
		return nil, decodeErrorf("unexpected output shape %v, want [1 %d N] or [1 N %d]", raw.Shape, channels, channels)
	}
	if size := raw.Size(); size != len(raw.Data) {
		return nil, decodeErrorf("output shape %v holds %d values, buffer has %d", raw.Shape, size, len(raw.Data))
	}
	switch {
	case raw.Shape[1] == channels:
		return channelsFirst{data: raw.Data, n: raw.Shape[2]}, nil
	case raw.Shape[2] == channels:
		return channelsLast{data: raw.Data, n: raw.Shape[1], c: channels}, nil
	}
	return nil, decodeErrorf("output shape %v does not carry %d channels per row", raw.Shape, channels)
}

// checkOutputShape is used at setup time, before any buffer exists.
func checkOutputShape(shape []int, channels int) bool {
	if len(shape) != 3 || shape[0] != 1 {
		return false
	}
	return shape[1] == channels || shape[2] == channels
}
