package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(NotForSale, "property %d is not for sale", 4)
	assert.Equal(t, NotForSale, KindOf(err))
	assert.Equal(t, "NOT_FOR_SALE: property 4 is not for sale", err.Error())

	wrapped := fmt.Errorf("purchase: %w", err)
	assert.True(t, Is(wrapped, NotForSale))
	assert.Equal(t, Internal, KindOf(fmt.Errorf("disk full")))
	assert.False(t, Is(nil, Internal))
}

func TestCodesRoundTrip(t *testing.T) {
	seen := map[uint32]Kind{}
	for kind := range codes {
		code := Code(kind)
		assert.NotZero(t, code, "0 is reserved for success")
		assert.NotContains(t, seen, code, "duplicate code for %s", kind)
		seen[code] = kind
		assert.Equal(t, kind, FromCode(code))
	}
	assert.Equal(t, uint32(99), Code(Kind("SOMETHING_ELSE")))
	assert.Equal(t, Internal, FromCode(12345))
}
