package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/bananaquiz/internal/model"
)

const tokenIssuer = "bananaquiz"

var (
	// ErrTokenExpired は有効期限切れのトークン。
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed は構造やクレームが不正なトークン。
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenBadSignature は署名検証に失敗したトークン。
	ErrTokenBadSignature = errors.New("token signature invalid")
)

// sessionClaims はセッショントークンのJWTクレーム。
// SubjectにアカウントIDを格納する。
type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenClaims は検証済みトークンから取り出した内容。
type TokenClaims struct {
	AccountID string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer はHS256で署名したステートレスなセッショントークンを発行・検証する。
// 署名鍵は起動時に1回だけ設定し、以後変更しない。鍵を変えると発行済みトークンは全て無効になる。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenIssuer{
		secret: key,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL はトークンの有効期間を返す。
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue はアカウントのセッショントークンを発行し、有効期限とともに返す。
func (t *TokenIssuer) Issue(account *model.Account) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Email: account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
// 失敗時はErrTokenExpired、ErrTokenMalformed、ErrTokenBadSignatureのいずれかを返す。
func (t *TokenIssuer) Verify(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) {
			return t.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrTokenBadSignature
	default:
		return nil, ErrTokenMalformed
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, ErrTokenMalformed
	}

	result := &TokenClaims{
		AccountID: claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	return result, nil
}
