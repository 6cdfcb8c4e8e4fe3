package agnoserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	pkgerrors "github.com/pkg/errors"
)

func TestAsProtocolError(t *testing.T) {
	pe := NewProtocolError("bad command %d", 7)
	wrapped := pkgerrors.Wrap(pe, "context")

	got, ok := AsProtocolError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "bad command 7", got.Message)
}

func TestAsProtocolErrorFalseForOtherError(t *testing.T) {
	_, ok := AsProtocolError(errors.New("something else"))
	assert.False(t, ok)
}

func TestAsPackedException(t *testing.T) {
	pk := &PackedException{ClassID: 5}
	got, ok := AsPackedException(pk)
	assert.True(t, ok)
	assert.Equal(t, int32(5), got.ClassID)
}

func TestNewGenericExceptionSynthesizesTracebackForBareError(t *testing.T) {
	ge := NewGenericException(errors.New("plain"))
	assert.Equal(t, "plain", ge.Message)
	assert.Contains(t, ge.Traceback, "no stack trace available")
}

func TestNewGenericExceptionUsesStackWhenPresent(t *testing.T) {
	err := pkgerrors.New("with stack")
	ge := NewGenericException(err)
	assert.Equal(t, "with stack", ge.Message)
	assert.NotContains(t, ge.Traceback, "no stack trace available")
}

func TestPackerErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	pe := NewPackerError("decode", inner)
	assert.True(t, errors.Is(pe, inner))
}
