package power

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointString(t *testing.T) {
	assert.Equal(t, "0", Point(0).String())
	assert.Equal(t, "12345", Point(12345).String())
	assert.Equal(t, "max", PointMax.String())
}

func TestManualPointSource(t *testing.T) {
	m := NewManualPointSource(10)
	assert.Equal(t, Point(10), m.Current())

	m.Advance(5)
	assert.Equal(t, Point(15), m.Current())

	m.Set(100)
	assert.Equal(t, Point(100), m.Current())
}
