package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodeMalformedURL, "cannot canonicalize %q", "::bad::")
	assert.Equal(t, `MALFORMED_URL: cannot canonicalize "::bad::"`, err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(ErrCodeNetwork, cause, "fetching dump")

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, Is(err, ErrCodeNetwork))
	assert.Equal(t, ErrCodeNetwork, GetCode(err))
}

func TestIsMatchesOuterCode(t *testing.T) {
	inner := New(ErrCodeParse, "bad row")
	outer := Wrap(ErrCodeNetwork, inner, "stage failed")

	assert.True(t, Is(outer, ErrCodeNetwork))
	assert.False(t, Is(outer, ErrCodeParse), "only the outermost code matches")
}

func TestGetCodeOnPlainError(t *testing.T) {
	assert.Equal(t, Code(""), GetCode(stderrors.New("plain")))
}

func TestFatal(t *testing.T) {
	assert.False(t, Fatal(New(ErrCodeMalformedURL, "x")))
	assert.False(t, Fatal(New(ErrCodeParse, "x")))
	assert.True(t, Fatal(New(ErrCodeNetwork, "x")))
	assert.True(t, Fatal(stderrors.New("unknown")))
}
