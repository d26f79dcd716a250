package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"calsync_server/pkg/apperr"
)

const (
	KeySize   = 32
	IVSize    = 12
	SaltSize  = 16
	TagSize   = 16
	fieldSep  = ":"
	numFields = 4

	tokenInfo = "calendar-token"
)

var (
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
)

// EncryptionContext owns the master key. It is built once at startup and
// passed to every component that needs to seal or open secrets.
type EncryptionContext struct {
	key  []byte
	rand io.Reader
}

// NewEncryptionContext validates key length and copies the key.
func NewEncryptionContext(key []byte) (*EncryptionContext, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &EncryptionContext{key: k, rand: rand.Reader}, nil
}

// NewEncryptionContextFromHex parses a 64 character hex key.
func NewEncryptionContextFromHex(hexKey string) (*EncryptionContext, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	return NewEncryptionContext(key)
}

// DeriveKey expands the master key for a separate purpose, e.g. signing.
func (c *EncryptionContext) DeriveKey(info string, size int) ([]byte, error) {
	out := make([]byte, size)
	r := hkdf.New(sha256.New, c.key, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return out, nil
}

func (c *EncryptionContext) messageKey(salt []byte) ([]byte, error) {
	out := make([]byte, KeySize)
	r := hkdf.New(sha256.New, c.key, salt, []byte(tokenInfo))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to derive message key: %w", err)
	}
	return out, nil
}

// Sealed is the decoded form of a stored ciphertext.
type Sealed struct {
	IV         []byte
	Salt       []byte
	Ciphertext []byte
	Tag        []byte
}

// String renders the iv:salt:ciphertext:authTag storage format.
func (s Sealed) String() string {
	return strings.Join([]string{
		hex.EncodeToString(s.IV),
		hex.EncodeToString(s.Salt),
		hex.EncodeToString(s.Ciphertext),
		hex.EncodeToString(s.Tag),
	}, fieldSep)
}

// ParseSealed decodes and length-checks the storage format.
func ParseSealed(value string) (Sealed, error) {
	parts := strings.Split(value, fieldSep)
	if len(parts) != numFields {
		return Sealed{}, apperr.MalformedCiphertext(fmt.Sprintf("expected %d fields, got %d", numFields, len(parts)))
	}

	decoded := make([][]byte, numFields)
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil {
			return Sealed{}, apperr.MalformedCiphertext("field is not hex")
		}
		decoded[i] = b
	}

	s := Sealed{IV: decoded[0], Salt: decoded[1], Ciphertext: decoded[2], Tag: decoded[3]}
	switch {
	case len(s.IV) != IVSize:
		return Sealed{}, apperr.MalformedCiphertext("bad iv length")
	case len(s.Salt) != SaltSize:
		return Sealed{}, apperr.MalformedCiphertext("bad salt length")
	case len(s.Tag) != TagSize:
		return Sealed{}, apperr.MalformedCiphertext("bad tag length")
	}
	return s, nil
}

// Encryptor handles AES-256-GCM encryption/decryption of token strings.
// It holds no mutable state and is safe for concurrent use.
type Encryptor struct {
	ctx *EncryptionContext
}

// NewEncryptor creates a new encryptor bound to ctx
func NewEncryptor(ctx *EncryptionContext) *Encryptor {
	return &Encryptor{ctx: ctx}
}

func (e *Encryptor) aead(salt []byte) (cipher.AEAD, error) {
	key, err := e.ctx.messageKey(salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with a fresh iv and salt.
func (e *Encryptor) Seal(plaintext string) (Sealed, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(e.ctx.rand, iv); err != nil {
		return Sealed{}, fmt.Errorf("failed to generate iv: %w", err)
	}
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(e.ctx.rand, salt); err != nil {
		return Sealed{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := e.aead(salt)
	if err != nil {
		return Sealed{}, err
	}

	out := gcm.Seal(nil, iv, []byte(plaintext), nil)
	split := len(out) - TagSize
	return Sealed{
		IV:         iv,
		Salt:       salt,
		Ciphertext: out[:split],
		Tag:        out[split:],
	}, nil
}

// Open authenticates and decrypts s.
func (e *Encryptor) Open(s Sealed) (string, error) {
	gcm, err := e.aead(s.Salt)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, len(s.Ciphertext)+len(s.Tag))
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)

	plaintext, err := gcm.Open(nil, s.IV, buf, nil)
	if err != nil {
		return "", apperr.TamperedCiphertext(err)
	}
	return string(plaintext), nil
}

// Encrypt returns the iv:salt:ciphertext:authTag encoding of plaintext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	s, err := e.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return s.String(), nil
}

// Decrypt parses and opens a stored value. Any format or authentication
// failure is an integrity error.
func (e *Encryptor) Decrypt(value string) (string, error) {
	s, err := ParseSealed(value)
	if err != nil {
		return "", apperr.TamperedCiphertext(err)
	}
	return e.Open(s)
}

// IsIntegrityError reports whether err came from a failed Decrypt.
func IsIntegrityError(err error) bool {
	return apperr.HasCode(err, apperr.CodeTamperedCiphertext)
}
