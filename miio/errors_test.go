package miio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameErrorIsErr(t *testing.T) {
	err := &FrameError{Err: ErrDecryptFail, Detail: "bad padding"}
	assert.True(t, errors.Is(err, ErrDecryptFail))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "DECRYPT_FAIL")
	assert.Contains(t, err.Error(), "bad padding")
}

func TestErrStringsAndOpStrings(t *testing.T) {
	assert.Equal(t, "OK", ErrOK.String())
	assert.Equal(t, "WRONG_SOURCE_IP", ErrWrongSourceIP.String())
	assert.Equal(t, "Handshake", OpHandshake.String())
	assert.Equal(t, "HealthCheck", OpHealthCheck.String())
}
