// Package security はプロフィール項目の検査とSSRF防止を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes は外部URLとして受け付けるスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はDNS解決前の静的検証で拒否するネットワーク範囲。
// 解決後のIPはsafeurlのDialerが検証する。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータIPを含む
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// URLGuard はユーザー・IdP由来の外部URLを検査する。
type URLGuard struct {
	client *http.Client
}

// NewURLGuard はURLGuardを生成する。
// timeoutはNewSafeClientで生成するクライアントのタイムアウト。
func NewURLGuard(timeout time.Duration) *URLGuard {
	return &URLGuard{client: NewSafeClient(timeout)}
}

// NewSafeClient はプライベート・ループバック・リンクローカル宛ての接続を
// Dialerレベルで拒否するHTTPクライアントを生成する。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// Client はSSRF防止付きのHTTPクライアントを返す。
func (g *URLGuard) Client() *http.Client {
	return g.client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// スキーム、ホスト、IPリテラルを検査し、危険なURLの場合はエラーを返す。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %q", scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("URL must not carry credentials")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip)
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if scheme == allowed {
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
