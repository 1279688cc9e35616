package rag

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// sealedPrefix 落盘密文的版本前缀，没有前缀的值视为明文
	sealedPrefix = "enc:v1:"
	keySize      = 32
)

// ErrCiphertextCorrupted 密文带前缀但无法解开（密钥被替换或内容被篡改）
var ErrCiphertextCorrupted = errors.New("ciphertext corrupted")

// EncryptionKey 服务商凭据的 AES-256-GCM 封装
type EncryptionKey struct {
	keyPath string
	aead    cipher.AEAD
}

// NewEncryptionKey 从密钥文件构建，文件不存在或长度不对时重新生成
func NewEncryptionKey(keyPath string) (*EncryptionKey, error) {
	key, err := loadOrGenerateKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load or generate key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &EncryptionKey{keyPath: keyPath, aead: aead}, nil
}

func loadOrGenerateKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) == keySize {
		return data, nil
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}
	return key, nil
}

// IsSealed 值是否为 Encrypt 的输出
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// Encrypt 加密凭据；空串和已加密的值原样返回
func (ek *EncryptionKey) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, ek.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := ek.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密凭据；没有前缀的旧数据按明文返回
func (ek *EncryptionKey) Decrypt(value string) (string, error) {
	payload, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextCorrupted, err)
	}
	n := ek.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("%w: payload shorter than nonce", ErrCiphertextCorrupted)
	}
	plaintext, err := ek.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextCorrupted, err)
	}
	return string(plaintext), nil
}
