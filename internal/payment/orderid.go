package payment

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// OrderIDPrefix starts every generated order id.
const OrderIDPrefix = "ORD_"

// IDGenerator produces merchant order identifiers.
type IDGenerator interface {
	NewOrderID() string
}

// IDFunc adapts a function to IDGenerator.
type IDFunc func() string

// NewOrderID implements IDGenerator.
func (f IDFunc) NewOrderID() string { return f() }

// TimeRandomIDs derives ids from UUIDv7: a millisecond timestamp, a
// per-process monotonic sequence and a random tail. Ids sort roughly by
// creation time and contain only [A-Za-z0-9_].
type TimeRandomIDs struct {
	Prefix string
}

// NewOrderID implements IDGenerator.
func (g TimeRandomIDs) NewOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	prefix := g.Prefix
	if prefix == "" {
		prefix = OrderIDPrefix
	}
	buf := make([]byte, len(prefix)+32)
	copy(buf, prefix)
	hex.Encode(buf[len(prefix):], id[:])
	return string(buf)
}
