package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Shape{2, 3, 4}
	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.True(t, s.Equal(Shape{2, 3, 4}))
	assert.False(t, s.Equal(Shape{2, 3}))
	assert.Error(t, Shape{2, 0}.Validate())
	assert.Equal(t, Shape{8, 2, 3, 4}, s.WithBatch(8))
	assert.Equal(t, "(None, 28, 28, 32)", Shape{0, 28, 28, 32}.String())
}

func TestFromSliceValidatesLength(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, 2, 2)
	require.Error(t, err)

	x, err := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 2}, x.Shape())
}

func TestReshapeSharesData(t *testing.T) {
	x := Zeros(2, 3)
	y := x.Reshape(6)
	y.Data()[5] = 7
	assert.Equal(t, float32(7), x.Data()[5])
	assert.Panics(t, func() { x.Reshape(4) })
}

func TestLayoutRoundTrip(t *testing.T) {
	data := make([]float32, 2*3*4*5)
	for i := range data {
		data[i] = float32(i)
	}
	nhwc, err := FromSlice(data, 2, 3, 4, 5)
	require.NoError(t, err)

	nchw := NHWCToNCHW(nhwc)
	assert.Equal(t, Shape{2, 5, 3, 4}, nchw.Shape())
	// element (b=1, y=2, x=3, c=4) lands at (b=1, c=4, y=2, x=3)
	assert.Equal(t, nhwc.Data()[((1*3+2)*4+3)*5+4], nchw.Data()[((1*5+4)*3+2)*4+3])

	back := NCHWToNHWC(nchw)
	assert.Equal(t, nhwc.Data(), back.Data())
}

func TestArgmax(t *testing.T) {
	x, err := FromSlice([]float32{0.1, 0.9, 0.0, 0.7, 0.2, 0.1}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, Argmax(x))
}
