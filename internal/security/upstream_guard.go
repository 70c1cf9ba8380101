// Package security は外部APIとの通信に関するセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL は外部から受け取ったURLが安全でない場合のエラー。
var ErrUnsafeURL = errors.New("unsafe url")

// allowedSchemes は外部通信および外部由来URLで許可するスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は内部ネットワークを指すアドレス範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// UpstreamGuard は外部パズルAPIへの通信と、その応答に含まれるURLを検証する。
type UpstreamGuard struct{}

// NewUpstreamGuard はUpstreamGuardを生成する。
func NewUpstreamGuard() *UpstreamGuard {
	return &UpstreamGuard{}
}

// NewSafeClient は明示的なタイムアウトを持つHTTPクライアントを生成する。
// safeurlがDialerのControlフックでDNS解決後のIPを検証するため、
// 設定ミスやDNS再バインディングで内部ネットワークに接続することはない。
func (g *UpstreamGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は外部由来のURLをDNS解決なしで静的に検証する。
// パズル画像URLのように、そのままクライアントへ返す値に使う。
func (g *UpstreamGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrUnsafeURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}

	if !isAllowedScheme(parsed.Scheme) {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: userinfo is not allowed", ErrUnsafeURL)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked address %s", ErrUnsafeURL, ip)
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("%w: blocked host %s", ErrUnsafeURL, host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
