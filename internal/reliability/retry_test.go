package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		gt.Value(t, IsRetryableHTTPStatus(tc.code)).Equal(tc.want)
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	gt.Value(t, ExponentialBackoff(0, base, capDur)).Equal(base)
	gt.Value(t, ExponentialBackoff(2, base, capDur)).Equal(400 * time.Millisecond)
	gt.Value(t, ExponentialBackoff(10, base, capDur)).Equal(capDur)
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, 2*time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	gt.NoError(t, err)
	gt.Value(t, calls).Equal(3)
}

func TestRetryReturnsLastError(t *testing.T) {
	cause := errors.New("down")
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, time.Millisecond, func(context.Context) error {
		calls++
		return cause
	})
	gt.Error(t, err).Is(cause)
	gt.Value(t, calls).Equal(2)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Hour, time.Hour, func(context.Context) error {
		return errors.New("down")
	})
	gt.Error(t, err).Is(context.Canceled)
}
