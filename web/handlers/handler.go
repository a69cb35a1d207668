package handlers

import (
	"context"
	"net"

	"gorm.io/gorm"
)

// DB is the slice of core.DatabaseManager the sync handlers need; tests
// substitute an implementation backed by a local database.
type DB interface {
	Exec(ctx context.Context, schema string, fn func(db *gorm.DB) error) error
}

// Notifier receives a fire-and-forget message after a push that applied at
// least one change. Delivery failure never affects the sync outcome.
type Notifier interface {
	Info(message string) error
}

func GetHostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
