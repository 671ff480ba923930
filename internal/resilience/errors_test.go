package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{name: "nil", err: nil, want: ClassFailed},
		{name: "explicit", err: NewTransientError(errors.New("overloaded"), 503), want: ClassTransient},
		{name: "wrapped", err: eris.Wrap(NewTransientError(errors.New("rate limited"), 429), "injector: post"), want: ClassTransient},
		{name: "plain", err: errors.New("status is not ok"), want: ClassFailed},
		{name: "reset", err: fmt.Errorf("write tcp: %w", syscall.ECONNRESET), want: ClassTransient},
		{name: "refused", err: fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), want: ClassTransient},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true, Err: "timeout"}, want: ClassTransient},
		{name: "untyped message", err: errors.New("read: connection reset by peer"), want: ClassTransient},
		{name: "permanent", err: eris.Wrap(Permanent(errors.New("read-only fs")), "crawler: veolia"), want: ClassPermanent},
		{name: "permanent wins", err: Permanent(NewTransientError(errors.New("x"), 502)), want: ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got, "got %s", got)
			assert.Equal(t, tt.want == ClassTransient, IsTransient(tt.err))
		})
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 400, 401, 404, 501} {
		assert.False(t, RetryableStatus(code), "code %d", code)
	}
}

func TestTransientError_Message(t *testing.T) {
	assert.Equal(t, "busy (status 503)", NewTransientError(errors.New("busy"), http.StatusServiceUnavailable).Error())
	assert.Equal(t, "eof", NewTransientError(errors.New("eof"), 0).Error())
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	base := errors.New("no space left")
	err := eris.Wrap(Permanent(base), "crawler: veolia")
	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, base))
	assert.False(t, IsPermanent(base))
	assert.Equal(t, "no space left", Permanent(base).Error())
}
