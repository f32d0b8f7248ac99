package order

import "github.com/google/uuid"

// NewClientOrderID generates a unique client order id with an optional
// connector-specific prefix.
func NewClientOrderID(prefix string) string {
	if prefix == "" {
		prefix = "ord"
	}
	return prefix + "-" + uuid.NewString()
}
