package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

const saltDomain = "companionsync/v1/"

// GenerateRandomBytes генерирует криптографически безопасные случайные байты
func GenerateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GroupSalt детерминированная соль группы устройств: одинаковая на всех устройствах пользователя
func GroupSalt(group string) []byte {
	sum := sha256.Sum256([]byte(saltDomain + group))
	return sum[:saltLength]
}

// Fingerprint короткий отпечаток ключа для сверки на двух устройствах
func Fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4])
}

// clearMemory затирает чувствительные данные
func clearMemory(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
