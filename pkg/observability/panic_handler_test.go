package observability

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, FormatJSON, &buf)

	func() {
		defer RecoverPanic(logger, "test")
		panic("boom")
	}()

	assert.Contains(t, buf.String(), "PANIC recovered")
	assert.Contains(t, buf.String(), `"panic":"boom"`)
}

func TestRecoverPanicWithCallback(t *testing.T) {
	logger := NewLogger(logrus.InfoLevel, FormatJSON, &bytes.Buffer{})

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "test", func() { called = true })
	}()
	assert.True(t, called, "callback runs without a panic")

	called = false
	func() {
		defer RecoverPanicWithCallback(logger, "test", func() { called = true })
		panic("boom")
	}()
	assert.True(t, called)
}

func TestMustRecover(t *testing.T) {
	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("bad"), "panic: bad")
}
