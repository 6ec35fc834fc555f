//go:build sqlite_cgo

// ABOUTME: cgo SQLite driver selection (mattn/go-sqlite3), enabled with -tags sqlite_cgo
// ABOUTME: Mirrors the pragmas of the pure-Go build using go-sqlite3's DSN options

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

func dataSourceName(path string) string {
	return "file:" + path +
		"?_journal_mode=WAL" +
		"&_foreign_keys=on" +
		"&_busy_timeout=5000"
}
