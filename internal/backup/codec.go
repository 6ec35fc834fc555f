// ABOUTME: Pure encode/decode of the encrypted, compressed backup envelope
// ABOUTME: gzip + scrypt-derived AES-256-GCM, serialized as a self-describing JSON document

package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/scrypt"
)

// Envelope format constants
const (
	EnvelopeVersion     = 1
	Algorithm           = "aes-256-gcm"
	MinPassphraseLength = 12
	FileExtension       = ".ccbk"

	// CreatedAtLayout is ISO-8601 UTC with millisecond precision
	CreatedAtLayout = "2006-01-02T15:04:05.000Z"

	saltSize  = 16
	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// sqliteSignature is the first 16 bytes of every SQLite database file
var sqliteSignature = []byte("SQLite format 3\x00")

var (
	// ErrValidation covers bad input rejected before any destructive action:
	// short passphrases and malformed or unsupported envelopes.
	ErrValidation = errors.New("invalid backup")

	// ErrAuthentication is returned when the envelope fails authentication.
	// A wrong passphrase and a tampered envelope are deliberately
	// indistinguishable.
	ErrAuthentication = errors.New("wrong passphrase or corrupted backup")

	// ErrFormat means the envelope decrypted correctly but does not hold a
	// SQLite database.
	ErrFormat = errors.New("backup does not contain a database")
)

// envelope is the on-disk JSON document. Version is a pointer so a missing
// field can be told apart from a zero.
type envelope struct {
	Version    *int   `json:"version"`
	Algorithm  string `json:"algorithm"`
	CreatedAt  string `json:"createdAt"`
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Ciphertext string `json:"ciphertext"`
}

// Header is the unauthenticated metadata of an envelope
type Header struct {
	Version   int
	Algorithm string
	CreatedAt time.Time
}

// Encode compresses and encrypts raw under passphrase and returns the
// envelope bytes.
func Encode(passphrase string, raw []byte) ([]byte, error) {
	data, _, err := encodeAt(passphrase, raw, time.Now())
	return data, err
}

func encodeAt(passphrase string, raw []byte, now time.Time) ([]byte, string, error) {
	if err := validatePassphrase(passphrase); err != nil {
		return nil, "", err
	}

	compressed, err := compress(raw)
	if err != nil {
		return nil, "", err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, "", fmt.Errorf("generating salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", fmt.Errorf("generating nonce: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, "", err
	}

	createdAt := now.UTC().Format(CreatedAtLayout)
	sealed := gcm.Seal(nil, nonce, compressed, additionalData(EnvelopeVersion, Algorithm, createdAt))
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	version := EnvelopeVersion
	data, err := json.Marshal(envelope{
		Version:    &version,
		Algorithm:  Algorithm,
		CreatedAt:  createdAt,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, "", fmt.Errorf("encoding envelope: %w", err)
	}
	return data, createdAt, nil
}

// Decode authenticates and decrypts an envelope and returns the database
// bytes it holds.
func Decode(passphrase string, data []byte) ([]byte, error) {
	if err := validatePassphrase(passphrase); err != nil {
		return nil, err
	}

	env, _, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}

	salt, err := decodeField("salt", env.Salt, saltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeField("iv", env.IV, nonceSize)
	if err != nil {
		return nil, err
	}
	tag, err := decodeField("authTag", env.AuthTag, tagSize)
	if err != nil {
		return nil, err
	}
	ciphertext, err := decodeField("ciphertext", env.Ciphertext, 0)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	compressed, err := gcm.Open(nil, nonce, sealed, additionalData(*env.Version, env.Algorithm, env.CreatedAt))
	if err != nil {
		return nil, ErrAuthentication
	}

	raw, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	if len(raw) < len(sqliteSignature) || !bytes.Equal(raw[:len(sqliteSignature)], sqliteSignature) {
		return nil, ErrFormat
	}
	return raw, nil
}

// Inspect parses an envelope's header without decrypting it
func Inspect(data []byte) (*Header, error) {
	env, createdAt, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	return &Header{
		Version:   *env.Version,
		Algorithm: env.Algorithm,
		CreatedAt: createdAt,
	}, nil
}

func parseEnvelope(data []byte) (*envelope, time.Time, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: malformed envelope: %v", ErrValidation, err)
	}

	switch {
	case env.Version == nil:
		return nil, time.Time{}, missingField("version")
	case env.Algorithm == "":
		return nil, time.Time{}, missingField("algorithm")
	case env.CreatedAt == "":
		return nil, time.Time{}, missingField("createdAt")
	case env.Salt == "":
		return nil, time.Time{}, missingField("salt")
	case env.IV == "":
		return nil, time.Time{}, missingField("iv")
	case env.AuthTag == "":
		return nil, time.Time{}, missingField("authTag")
	case env.Ciphertext == "":
		return nil, time.Time{}, missingField("ciphertext")
	}

	if *env.Version != EnvelopeVersion {
		return nil, time.Time{}, fmt.Errorf("%w: unsupported version %d", ErrValidation, *env.Version)
	}
	if env.Algorithm != Algorithm {
		return nil, time.Time{}, fmt.Errorf("%w: unsupported algorithm %q", ErrValidation, env.Algorithm)
	}

	createdAt, err := time.Parse(CreatedAtLayout, env.CreatedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: invalid createdAt %q", ErrValidation, env.CreatedAt)
	}
	return &env, createdAt, nil
}

func missingField(name string) error {
	return fmt.Errorf("%w: missing field %q", ErrValidation, name)
}

// decodeField base64-decodes a binary field. size 0 means any length.
func decodeField(name, value string, size int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: field %q is not valid base64", ErrValidation, name)
	}
	if size > 0 && len(b) != size {
		return nil, fmt.Errorf("%w: field %q has length %d, want %d", ErrValidation, name, len(b), size)
	}
	return b, nil
}

func validatePassphrase(passphrase string) error {
	if utf8.RuneCountInString(passphrase) < MinPassphraseLength {
		return fmt.Errorf("%w: passphrase must be at least %d characters", ErrValidation, MinPassphraseLength)
	}
	return nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// additionalData binds the header fields to the ciphertext
func additionalData(version int, algorithm, createdAt string) []byte {
	return fmt.Appendf(nil, "chitchat-backup|%d|%s|%s", version, algorithm, createdAt)
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
