package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

// 密钥派生参数
const (
	// DefaultIterations PBKDF2 迭代次数
	DefaultIterations = 120_000
	keyLength         = 32
	saltBytes         = 16
)

// Hasher 设备密钥哈希器，PBKDF2-HMAC-SHA256
type Hasher struct {
	Iterations int
}

// Hash 生成随机盐并派生密钥，返回 base64 编码的哈希与盐
func (h Hasher) Hash(secret string) (hash, salt string, err error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	derived := pbkdf2.Key([]byte(secret), raw, h.iterations(), keyLength, sha256.New)
	return base64.StdEncoding.EncodeToString(derived), base64.StdEncoding.EncodeToString(raw), nil
}

// Matches 常量时间比较密钥
func (h Hasher) Matches(secret, salt, hash string, iterations int) bool {
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(hash)
	if err != nil || len(expected) == 0 {
		return false
	}
	if iterations <= 0 {
		iterations = h.iterations()
	}
	actual := pbkdf2.Key([]byte(secret), rawSalt, iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

func (h Hasher) iterations() int {
	if h.Iterations <= 0 {
		return DefaultIterations
	}
	return h.Iterations
}
