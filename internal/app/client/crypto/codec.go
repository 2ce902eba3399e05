package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const formatVersion = 1

// Cipher AEAD-алгоритм пакета
type Cipher byte

const (
	CipherAESGCM    Cipher = 1
	CipherXChaCha20 Cipher = 2
)

var (
	ErrMalformed         = errors.New("malformed ciphertext")
	ErrAuthentication    = errors.New("ciphertext authentication failed")
	ErrUnsupportedCipher = errors.New("unsupported cipher")
)

// ParseCipher разбирает имя алгоритма из конфигурации
func ParseCipher(name string) (Cipher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "xchacha20poly1305", "xchacha20-poly1305":
		return CipherXChaCha20, nil
	case "aes-gcm", "aes-256-gcm", "aesgcm":
		return CipherAESGCM, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedCipher, name)
}

func (c Cipher) String() string {
	switch c {
	case CipherAESGCM:
		return "aes-256-gcm"
	case CipherXChaCha20:
		return "xchacha20-poly1305"
	}
	return fmt.Sprintf("cipher(%d)", byte(c))
}

// KeySource источник ключа шифрования
type KeySource interface {
	Key() ([]byte, error)
}

// StaticKey неизменный ключ, удобен в тестах
type StaticKey []byte

func (k StaticKey) Key() ([]byte, error) {
	if len(k) != keyLength {
		return nil, fmt.Errorf("key must be %d bytes", keyLength)
	}
	return append([]byte(nil), k...), nil
}

// Codec аутентифицированное шифрование пакетов.
// Формат: [версия][алгоритм][nonce][шифротекст]; заголовок входит в AAD.
type Codec struct {
	keys   KeySource
	cipher Cipher
}

// NewCodec создает кодек; шифрует выбранным алгоритмом, расшифровывает любым поддерживаемым
func NewCodec(keys KeySource, c Cipher) *Codec {
	return &Codec{keys: keys, cipher: c}
}

// Encrypt шифрует данные
func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	key, err := c.keys.Key()
	if err != nil {
		return nil, err
	}
	defer clearMemory(key)

	aead, err := newAEAD(c.cipher, key)
	if err != nil {
		return nil, err
	}

	nonce, err := GenerateRandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	header := []byte{formatVersion, byte(c.cipher)}
	out := make([]byte, 0, len(header)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, header), nil
}

// Decrypt проверяет и расшифровывает данные
func (c *Codec) Decrypt(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != formatVersion {
		return nil, ErrMalformed
	}
	header := data[:2]

	key, err := c.keys.Key()
	if err != nil {
		return nil, err
	}
	defer clearMemory(key)

	aead, err := newAEAD(Cipher(data[1]), key)
	if err != nil {
		return nil, err
	}

	body := data[2:]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}
	nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	switch c {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case CipherXChaCha20:
		return chacha20poly1305.NewX(key)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedCipher, byte(c))
}
