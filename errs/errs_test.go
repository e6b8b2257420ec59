package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(Transport, nil, "dialing"))
}

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(Transport, base, "dialing peer")
	assert.Equal(t, Transport, KindOf(err))
	assert.True(t, Is(err, Transport))
	assert.False(t, Is(err, Catalog))
}

func TestKindOfPlainErrorIsUnknown(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
}

func TestNewCarriesKind(t *testing.T) {
	err := New(Capacity, "worker pool full")
	assert.Equal(t, Capacity, KindOf(err))
	assert.Contains(t, err.Error(), "worker pool full")
}
