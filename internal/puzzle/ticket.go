package puzzle

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	ticketVersion  byte = 1
	ticketKeyInfo       = "bananaquiz puzzle ticket v1"
	ticketPlainLen      = 1 + 8 // solution + expires_at(unix sec)
)

// ticketAAD はバージョンを認証対象に含める。
var ticketAAD = []byte{ticketVersion}

var (
	// ErrInvalidTicket は改ざん・形式不正・期限切れの解答チケットを表す。
	ErrInvalidTicket = errors.New("invalid puzzle ticket")
	// ErrTicketExpired は期限切れの解答チケットを表す。ErrInvalidTicketでもある。
	ErrTicketExpired = fmt.Errorf("%w: expired", ErrInvalidTicket)
)

// TicketSealer は問題の解答をクライアントに読めない形で封印する。
// 解答はXChaCha20-Poly1305で暗号化し、チケットを持つクライアントだけが
// 後から正誤判定を受けられる。サーバー側に状態は持たない。
type TicketSealer struct {
	aead cipher.AEAD
	ttl  time.Duration
	now  func() time.Time
}

// NewTicketSealer はサーバーの秘密鍵からHKDFでチケット用の鍵を導出し、TicketSealerを生成する。
func NewTicketSealer(secret []byte, ttl time.Duration) (*TicketSealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("ticket secret must not be empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(ticketKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive ticket key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket cipher: %w", err)
	}

	return &TicketSealer{
		aead: aead,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// Seal は解答を封印したチケットと有効期限を返す。
func (s *TicketSealer) Seal(solution int) (string, time.Time, error) {
	if solution < minSolution || solution > maxSolution {
		return "", time.Time{}, fmt.Errorf("solution %d out of range", solution)
	}

	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)

	plain := make([]byte, ticketPlainLen)
	plain[0] = byte(solution)
	binary.BigEndian.PutUint64(plain[1:], uint64(expiresAt.Unix()))

	// version || nonce || ciphertext
	out := make([]byte, 1+s.aead.NonceSize(), 1+s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	out[0] = ticketVersion
	nonce := out[1:]
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate ticket nonce: %w", err)
	}
	out = s.aead.Seal(out, nonce, plain, ticketAAD)

	return base64.RawURLEncoding.EncodeToString(out), expiresAt, nil
}

// Open はチケットを検証し、封印された解答を返す。
func (s *TicketSealer) Open(ticket string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ticket)
	if err != nil {
		return 0, ErrInvalidTicket
	}

	nonceSize := s.aead.NonceSize()
	if len(raw) < 1+nonceSize+s.aead.Overhead() || raw[0] != ticketVersion {
		return 0, ErrInvalidTicket
	}

	nonce := raw[1 : 1+nonceSize]
	plain, err := s.aead.Open(nil, nonce, raw[1+nonceSize:], ticketAAD)
	if err != nil || len(plain) != ticketPlainLen {
		return 0, ErrInvalidTicket
	}

	expiresAt := time.Unix(int64(binary.BigEndian.Uint64(plain[1:])), 0)
	if !s.now().Before(expiresAt) {
		return 0, ErrTicketExpired
	}

	solution := int(plain[0])
	if solution < minSolution || solution > maxSolution {
		return 0, ErrInvalidTicket
	}
	return solution, nil
}
