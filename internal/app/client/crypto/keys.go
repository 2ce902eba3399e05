package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Константы для PBKDF2
	pbkdf2Iterations = 100000

	// Константы для Argon2
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4

	keyLength    = 32 // 256 бит
	saltLength   = 16
	keyVersion   = 1
	keyFilePerms = 0600

	KDFArgon2id = "Argon2id"
	KDFPBKDF2   = "PBKDF2-SHA256"
)

var (
	ErrLocked         = errors.New("ключ синхронизации заблокирован")
	ErrNotInitialized = errors.New("ключ синхронизации не создан")
	ErrWrongPassword  = errors.New("неверная парольная фраза")
)

// KeyHeader метаданные ключа, сохраняемые на диск. Сам ключ не сохраняется.
type KeyHeader struct {
	Version    int       `json:"version"`
	KDF        string    `json:"kdf"`
	Group      string    `json:"group"`
	Salt       string    `json:"salt"`
	KeyHash    string    `json:"key_hash"`
	Iterations int       `json:"iterations,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// KeyManager выводит общий ключ группы устройств из парольной фразы
type KeyManager struct {
	path   string
	header KeyHeader
	key    []byte
	inited bool
	mu     sync.RWMutex
}

// NewKeyManager загружает заголовок ключа, если файл существует
func NewKeyManager(path string) (*KeyManager, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка определения пути: %w", err)
	}

	m := &KeyManager{path: absPath}

	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &m.header); err != nil {
			return nil, fmt.Errorf("ошибка декодирования файла ключа: %w", err)
		}
		m.inited = true
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("ошибка чтения файла ключа: %w", err)
	}

	return m, nil
}

// Generate создает ключ группы и сохраняет его заголовок.
// Все устройства с той же группой и фразой получают тот же ключ.
func (m *KeyManager) Generate(passphrase, group, kdf string) error {
	if kdf == "" {
		kdf = KDFArgon2id
	}

	salt := GroupSalt(group)
	key, err := deriveKey(kdf, []byte(passphrase), salt, pbkdf2Iterations)
	if err != nil {
		return err
	}
	keyHash := sha256.Sum256(key)

	now := time.Now().UTC()
	header := KeyHeader{
		Version:   keyVersion,
		KDF:       kdf,
		Group:     group,
		Salt:      hex.EncodeToString(salt),
		KeyHash:   hex.EncodeToString(keyHash[:]),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if kdf == KDFPBKDF2 {
		header.Iterations = pbkdf2Iterations
	}

	data, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}
	if err := os.WriteFile(m.path, data, keyFilePerms); err != nil {
		return fmt.Errorf("ошибка записи файла ключа: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearKey()
	m.header = header
	m.key = key
	m.inited = true
	return nil
}

// Unlock восстанавливает ключ из парольной фразы и сверяет его хэш
func (m *KeyManager) Unlock(passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.inited {
		return ErrNotInitialized
	}
	if m.key != nil {
		return nil
	}

	salt, err := hex.DecodeString(m.header.Salt)
	if err != nil {
		return fmt.Errorf("ошибка декодирования соли: %w", err)
	}
	key, err := deriveKey(m.header.KDF, []byte(passphrase), salt, m.header.Iterations)
	if err != nil {
		return err
	}

	keyHash := sha256.Sum256(key)
	expected, err := hex.DecodeString(m.header.KeyHash)
	if err != nil {
		return fmt.Errorf("ошибка декодирования хэша ключа: %w", err)
	}
	if subtle.ConstantTimeCompare(keyHash[:], expected) != 1 {
		clearMemory(key)
		return ErrWrongPassword
	}

	m.key = key
	return nil
}

// Lock стирает ключ из памяти
func (m *KeyManager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearKey()
}

func (m *KeyManager) IsLocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key == nil
}

func (m *KeyManager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inited
}

// Header метаданные ключа
func (m *KeyManager) Header() KeyHeader {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.header
}

// Key копия ключа для шифрования
func (m *KeyManager) Key() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inited {
		return nil, ErrNotInitialized
	}
	if m.key == nil {
		return nil, ErrLocked
	}
	return append([]byte(nil), m.key...), nil
}

func (m *KeyManager) clearKey() {
	if m.key != nil {
		clearMemory(m.key)
		m.key = nil
	}
}

func deriveKey(kdf string, passphrase, salt []byte, iterations int) ([]byte, error) {
	switch kdf {
	case KDFArgon2id:
		return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, keyLength), nil
	case KDFPBKDF2:
		if iterations <= 0 {
			iterations = pbkdf2Iterations
		}
		return pbkdf2.Key(passphrase, salt, iterations, keyLength, sha256.New), nil
	default:
		return nil, fmt.Errorf("неподдерживаемый алгоритм: %s", kdf)
	}
}
