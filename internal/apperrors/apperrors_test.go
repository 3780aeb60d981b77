package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindStorage, KindOf(errors.New("connection reset")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("order")))
	assert.Equal(t, KindInsufficientStock, KindOf(fmt.Errorf("checkout: %w", InsufficientStock(1, 3, 2))))
}

func TestIsMatchesKindSentinels(t *testing.T) {
	err := fmt.Errorf("verify: %w", DuplicatePayment("pay_1"))

	assert.ErrorIs(t, err, ErrDuplicatePayment)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
	assert.NotErrorIs(t, DuplicatePayment("pay_1"), DuplicatePayment("pay_1"))
}

func TestDetails(t *testing.T) {
	err := InsufficientStock(42, 3, 1)
	assert.Equal(t, int64(42), err.Details["variant_id"])
	assert.Equal(t, 3, err.Details["requested"])
	assert.Equal(t, 1, err.Details["available"])

	transition := InvalidTransition("SHIPPED", "CANCELLED")
	assert.Equal(t, "SHIPPED", transition.Details["from"])
	assert.Contains(t, transition.Error(), "cannot move order from SHIPPED to CANCELLED")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := Gateway("fetch payment", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Gateway: fetch payment: timeout", err.Error())
}

func TestOrStorage(t *testing.T) {
	assert.NoError(t, OrStorage("x", nil))

	validation := Validation("bad input")
	assert.Same(t, validation, OrStorage("place order", validation))

	wrapped := OrStorage("place order", errors.New("disk full"))
	assert.Equal(t, KindStorage, KindOf(wrapped))
	assert.Contains(t, wrapped.Error(), "disk full")
}
