package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/stretchr/testify/assert"
)

var fast = Policy{MaxRetries: 2, Base: time.Millisecond}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperr.Storage("list", errors.New("connection reset"))
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		return apperr.Extraction("embed", errors.New("502"))
	})

	assert.ErrorIs(t, err, apperr.ErrExtraction)
	assert.Equal(t, 3, calls)
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		return apperr.ErrFaceNotFound
	})

	assert.ErrorIs(t, err, apperr.ErrFaceNotFound)
	assert.Equal(t, 1, calls)
}
