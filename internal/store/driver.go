//go:build !cgo_sqlite

package store

import (
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver used by Open. The default build uses
// the pure-Go modernc driver; build with -tags cgo_sqlite for mattn/go-sqlite3.
const driverName = "sqlite"
