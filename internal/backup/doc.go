// Package backup produces and restores encrypted snapshots of the store.
//
// # Envelope
//
// A backup is a UTF-8 JSON document, conventionally saved with the .ccbk
// extension:
//
//	{
//	  "version": 1,
//	  "algorithm": "aes-256-gcm",
//	  "createdAt": "2025-06-07T08:09:10.123Z",
//	  "salt": "<base64, 16 bytes>",
//	  "iv": "<base64, 12 bytes>",
//	  "authTag": "<base64, 16 bytes>",
//	  "ciphertext": "<base64>"
//	}
//
// The database file is gzip-compressed at maximum level, then encrypted with
// AES-256-GCM under a key derived by scrypt from the passphrase and salt.
// version, algorithm and createdAt are bound as associated data, so changing
// any field makes Decode fail.
//
// # Errors
//
//   - ErrValidation: passphrase shorter than 12 characters, malformed or
//     unsupported envelope. Safe to retry with corrected input.
//   - ErrAuthentication: wrong passphrase or tampered envelope. The two are
//     intentionally indistinguishable.
//   - ErrFormat: decrypted fine but is not a SQLite database.
//
// # Restore
//
// Service.Restore decodes first and only then closes the store, copies the
// current file to <path>.pre-restore-<millis>.bak, replaces the file, removes
// stale -wal/-shm sidecars and reopens the store. The .bak file is the manual
// rollback path and is never deleted by this package.
package backup
