// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/bananaquiz/internal/auth"
	"github.com/hitoshi/bananaquiz/internal/model"
)

// SessionCookieName はセッショントークンを格納するCookie名。
const SessionCookieName = "token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みIDを格納するためのキー。
var identityContextKey = contextKey("identity")

// TokenVerifier はセッショントークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(token string) (*auth.TokenClaims, error)
}

// AccountFinder はアカウントの再解決に必要なインターフェース。
// repository.AccountRepositoryの部分集合として定義する。
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// NewSessionMiddleware はCookieからセッショントークンを読み取り、
// 署名と有効期限を検証するミドルウェアを返す。
// 検証後にアカウントをIDで再取得し、存在しなければ有効な署名でも拒否する。
// 認証済みIDをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返し、後続のハンドラーは呼び出さない。
func NewSessionMiddleware(tokens TokenVerifier, accounts AccountFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからトークンを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized,
					model.NewUnauthenticatedError("No authentication cookie found"))
				return
			}

			// 2. 署名と有効期限を検証
			claims, err := tokens.Verify(cookie.Value)
			if err != nil {
				slog.Info("session token rejected",
					slog.String("reason", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized,
					model.NewUnauthenticatedError("Invalid or expired authentication cookie"))
				return
			}

			// 3. アカウントを再解決
			account, err := accounts.FindByID(r.Context(), claims.AccountID)
			if err != nil {
				slog.Error("failed to find account for session",
					slog.String("account_id", claims.AccountID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if account == nil {
				WriteErrorResponse(w, http.StatusUnauthorized,
					model.NewUnauthenticatedError("User not found"))
				return
			}

			// 4. 認証済みIDをコンテキストに注入
			identity := account.Identity()
			recordAccountID(r.Context(), identity.ID)
			ctx := ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから認証済みIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || identity.ID == "" {
		return model.Identity{}, false
	}
	return identity, true
}

// ContextWithIdentity はコンテキストに認証済みIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
