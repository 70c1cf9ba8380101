// Package model はドメインモデルを定義する。
package model

import "time"

// Account はメールアドレスとパスワードで登録されたユーザーを表す。
// emailは大文字小文字を区別して一意。
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity はセッションゲートを通過したリクエストに紐づく認証済みユーザー。
// トークンの内容ではなく、DBから再解決した値を保持する。
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Identity はAccountから公開可能な識別情報を取り出す。
func (a *Account) Identity() Identity {
	return Identity{ID: a.ID, Email: a.Email}
}
