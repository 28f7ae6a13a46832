//go:build !darwin || !cgo

package screencap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Unsupported(t *testing.T) {
	c, err := New(0, 30)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.ErrorIs(t, (&Capturer{}).Run(context.Background(), nil), ErrUnsupported)
	assert.Nil(t, (&Capturer{}).Grab())
}
