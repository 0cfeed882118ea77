//go:build cgo

package store

// The libSQL driver is cgo-only; registering it from a cgo-tagged file
// keeps the package buildable with CGO_ENABLED=0, where NewLibSQLStore
// reports the driver as unavailable at runtime instead.
import _ "github.com/tursodatabase/go-libsql"
