// Package auth はパスワード認証とステートレスなセッショントークンを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/bananaquiz/internal/model"
	"github.com/hitoshi/bananaquiz/internal/repository"
)

// maxEmailLength はメールアドレスとして受け付ける最大長。
const maxEmailLength = 254

// dummyPassword は未登録メールアドレスでのログイン時に照合するダミー値。
const dummyPassword = "bananaquiz-timing-equalizer"

// TokenProvider はセッショントークンの発行・検証インターフェース。
type TokenProvider interface {
	Issue(account *model.Account) (string, time.Time, error)
	Verify(token string) (*TokenClaims, error)
}

// LoginResult はログイン成功時の結果を表す。
type LoginResult struct {
	Account   *model.Account
	Token     string
	ExpiresAt time.Time
}

// Service はアカウント登録とログインのビジネスロジックを提供する。
type Service struct {
	accounts repository.AccountRepository
	hasher   PasswordHasher
	tokens   TokenProvider
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。
func NewService(accounts repository.AccountRepository, hasher PasswordHasher, tokens TokenProvider) *Service {
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		now:      time.Now,
	}
}

// Register はアカウントを登録する。
// 事前のメールアドレス検索は親切なエラーメッセージのためのもので、
// 一意性はDBのユニーク制約が保証する。
func (s *Service) Register(ctx context.Context, email, password string) (*model.Account, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, ErrPasswordTooLong) {
			return nil, model.NewValidationError("Password must be at most 72 bytes")
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &model.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("account registered",
		slog.String("account_id", account.ID),
		slog.String("email", account.Email),
	)
	return account, nil
}

// Login はメールアドレスとパスワードを照合し、セッショントークンを発行する。
// メールアドレス不明とパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, model.NewValidationError("Email and password required")
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}

	if account == nil {
		// 応答時間でメールアドレスの存在が分からないよう、ダミーハッシュと照合する
		if hash := s.equalizerHash(); hash != "" {
			_, _ = s.hasher.Verify(password, hash)
		}
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		slog.Info("login failed", slog.String("account_id", account.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	token, expiresAt, err := s.tokens.Issue(account)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("account logged in", slog.String("account_id", account.ID))
	return &LoginResult{
		Account:   account,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// equalizerHash はダミーハッシュを初回呼び出し時に1回だけ生成する。
func (s *Service) equalizerHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			slog.Warn("failed to prepare dummy password hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return model.NewValidationError("Email and password required")
	}
	if len(email) > maxEmailLength || !strings.Contains(email, "@") || strings.ContainsAny(email, " \t\r\n") {
		return model.NewValidationError("Invalid email address")
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError("Password must be at most 72 bytes")
	}
	return nil
}
