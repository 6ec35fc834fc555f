//go:build !sqlite_cgo

// ABOUTME: Pure-Go SQLite driver selection (modernc.org/sqlite)
// ABOUTME: Default build; pragmas are applied to every pooled connection via the DSN

package store

import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

func dataSourceName(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
}
