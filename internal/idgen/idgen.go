// Package idgen mints TargetIds. LogEntry ids are a counter kept by the
// Activity Log itself.
package idgen

import "github.com/google/uuid"

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings:
// time-sortable, so ids minted later naturally sort after earlier ones
// in any listing that orders by id.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Default is the Supervisor's id generator: UUIDv7.
var Default Generator = UUIDv7()
