package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes はbcryptが扱える入力長の上限。
const maxPasswordBytes = 72

var (
	// ErrEmptyPassword は空のパスワードをハッシュしようとした場合のエラー。
	ErrEmptyPassword = errors.New("password cannot be empty")
	// ErrPasswordTooLong はbcryptの上限を超えるパスワードのエラー。
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

// PasswordHasher はパスワードの一方向ハッシュと照合を提供する。
type PasswordHasher interface {
	// Hash はソルト付きのハッシュを生成する。
	Hash(password string) (string, error)

	// Verify はパスワードとハッシュを照合する。
	// 一致すれば(true, nil)、不一致なら(false, nil)、ハッシュが不正ならエラーを返す。
	Verify(password, hash string) (bool, error)
}

// BcryptHasher はbcryptによるPasswordHasher実装。
// コスト10で照合1回あたりおよそ100ms。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はBcryptHasherを生成する。
// 範囲外のコストはbcrypt.DefaultCostに置き換える。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash はパスワードのbcryptハッシュを生成する。
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify はパスワードとbcryptハッシュを定数時間で照合する。
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to verify password: %w", err)
}

// compile-time interface check
var _ PasswordHasher = (*BcryptHasher)(nil)
