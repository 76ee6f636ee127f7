package payment_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-bridge/internal/payment"
)

func TestOrderIDsAreUnique(t *testing.T) {
	gen := payment.TimeRandomIDs{}
	seen := make(map[string]struct{}, 100_000)
	for i := 0; i < 100_000; i++ {
		id := gen.NewOrderID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s after %d ids", id, i)
		seen[id] = struct{}{}
	}
}

func TestOrderIDFormat(t *testing.T) {
	id := payment.TimeRandomIDs{}.NewOrderID()
	require.Regexp(t, regexp.MustCompile(`^ORD_[0-9a-f]{32}$`), id)
	require.LessOrEqual(t, len(id), 45)

	custom := payment.TimeRandomIDs{Prefix: "LCK_"}.NewOrderID()
	require.Regexp(t, `^LCK_[0-9a-f]{32}$`, custom)
}

func TestOrderIDsSortByCreation(t *testing.T) {
	gen := payment.TimeRandomIDs{}
	prev := gen.NewOrderID()
	for i := 0; i < 1000; i++ {
		next := gen.NewOrderID()
		require.Less(t, prev, next)
		prev = next
	}
}
