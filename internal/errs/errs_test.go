package errs_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kiranshivaraju/twimagine/internal/errs"
	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestTransient(t *testing.T) {
	assert.Nil(t, errs.Transient(nil))
	assert.False(t, errs.IsTransient(nil))
	assert.False(t, errs.IsTransient(errBoom))

	marked := errs.Transient(errBoom)
	assert.True(t, errs.IsTransient(marked))
	assert.ErrorIs(t, marked, errBoom)
	assert.Equal(t, "boom", marked.Error())
}

func TestTransient_SurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("post reply: %w", errs.Transient(errBoom))
	assert.True(t, errs.IsTransient(wrapped))

	wrapped = errs.Wrap(errs.Transient(errBoom), "upload")
	assert.True(t, errs.IsTransient(wrapped))
	assert.Equal(t, "upload: boom", wrapped.Error())
}

func TestIsTransient_DeadlineExceeded(t *testing.T) {
	assert.True(t, errs.IsTransient(context.DeadlineExceeded))
	assert.True(t, errs.IsTransient(fmt.Errorf("generate: %w", context.DeadlineExceeded)))
	assert.False(t, errs.IsTransient(context.Canceled))
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, errs.Wrap(nil, "x"))
	assert.Nil(t, errs.Wrapf(nil, "x %d", 1))
}
