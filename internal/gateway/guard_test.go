package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

var errUnavailable = errors.New("503 service unavailable")

func isUnavailable(err error) bool { return errors.Is(err, errUnavailable) }

func newTestGuard(cfg Config) *Guard {
	return NewGuard(payment.ProviderStripe, cfg, isUnavailable, zap.NewNop())
}

func TestCall_Success(t *testing.T) {
	g := newTestGuard(Config{})
	v, err := Call(context.Background(), g, "op", func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCall_TransientBecomesGatewayError(t *testing.T) {
	g := newTestGuard(Config{})
	_, err := Call(context.Background(), g, "create session", func(context.Context) (int, error) {
		return 0, errUnavailable
	})
	var gErr *payment.GatewayError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, payment.ProviderStripe, gErr.Provider)
	assert.Equal(t, "create session", gErr.Op)
	assert.ErrorIs(t, err, errUnavailable)
}

func TestCall_PermanentPassesThrough(t *testing.T) {
	g := newTestGuard(Config{Failures: 1})
	for range 3 {
		_, err := Call(context.Background(), g, "get", func(context.Context) (int, error) {
			return 0, payment.ErrUnknownPayment
		})
		require.ErrorIs(t, err, payment.ErrUnknownPayment)
		assert.False(t, payment.IsGatewayError(err))
	}
}

func TestCall_Timeout(t *testing.T) {
	g := newTestGuard(Config{Timeout: 20 * time.Millisecond})
	_, err := Call(context.Background(), g, "slow", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.True(t, payment.IsGatewayError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCall_BreakerOpens(t *testing.T) {
	g := newTestGuard(Config{Failures: 2, Cooldown: time.Hour})
	fail := func(context.Context) (int, error) { return 0, errUnavailable }

	for range 2 {
		_, err := Call(context.Background(), g, "op", fail)
		require.Error(t, err)
	}

	called := false
	_, err := Call(context.Background(), g, "op", func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	require.True(t, payment.IsGatewayError(err))
	assert.False(t, called)
}

func TestDetach(t *testing.T) {
	v, err := Detach(context.Background(), func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)
	_, err = Detach(ctx, func() (string, error) {
		<-release
		return "late", nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
