// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/bananaquiz/internal/auth"
	"github.com/hitoshi/bananaquiz/internal/metrics"
	"github.com/hitoshi/bananaquiz/internal/middleware"
	"github.com/hitoshi/bananaquiz/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*model.Account, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
	TokenTTL     time.Duration // セッションCookieの有効期間
}

// AuthHandler は登録・ログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, mc metrics.MetricsCollector) *AuthHandler {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &AuthHandler{
		service: service,
		config:  config,
		metrics: mc,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type loginResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	User    model.Identity `json:"user"`
}

type meResponse struct {
	Success bool           `json:"success"`
	User    model.Identity `json:"user"`
}

// Register はアカウントを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	if _, err := h.service.Register(r.Context(), req.Email, req.Password); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeDuplicateEmail {
			h.metrics.RecordRegistration(metrics.OutcomeDuplicate)
		} else {
			h.metrics.RecordRegistration(metrics.OutcomeFailure)
		}
		handleServiceError(w, r, err)
		return
	}

	h.metrics.RecordRegistration(metrics.OutcomeSuccess)
	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Registration successful!",
	})
}

// Login は認証に成功したらセッションCookieを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordLogin(false)
		handleServiceError(w, r, err)
		return
	}
	h.metrics.RecordLogin(true)

	// セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    result.Token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		Expires:  result.ExpiresAt,
		MaxAge:   int(h.config.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Message: "Login successful",
		User:    result.Account.Identity(),
	})
}

// Logout はセッションCookieを削除する。
// トークンはサーバー側に保存していないため、失効はCookie削除のみで行う。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

// Me は現在ログイン中のユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		handleServiceError(w, r, model.NewUnauthenticatedError("No authentication cookie found"))
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		Success: true,
		User:    identity,
	})
}
