package security

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// DefaultProbeTimeout はプロフィール画像の確認リクエストの既定タイムアウト。
const DefaultProbeTimeout = 5 * time.Second

// URLGuard は外部URLの静的検証インターフェース。
type URLGuard interface {
	// ValidateURL はスキーム・ホスト・IPアドレスを検証し、危険なURLの場合はエラーを返す。
	ValidateURL(rawURL string) error
}

// ImageProber はURLが画像を返すかを確認する。
type ImageProber interface {
	ProbeImage(ctx context.Context, rawURL string) error
}

// allowedSchemes は許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はブロックするネットワーク範囲。パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（クラウドメタデータIPを含む）
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

// ssrfGuard はURLGuardとImageProberの実装。
// 確認リクエストはsafeurlのクライアントで送信し、DNS解決後のIPも検証する。
type ssrfGuard struct {
	client *http.Client
}

// NewSSRFGuard はssrfGuardを生成する。timeoutが0以下の場合はDefaultProbeTimeoutを使う。
func NewSSRFGuard(timeout time.Duration) *ssrfGuard {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &ssrfGuard{client: NewSafeClient(timeout)}
}

// NewSafeClient はプライベートIP・ループバック・リンクローカルへの接続を拒否するHTTPクライアントを生成する。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials in URL are not allowed")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// ProbeImage はHEADリクエストでURLが画像を返すかを確認する。
// 2xx以外のステータスやimage/*以外のContent-Typeはエラーにする。
func (g *ssrfGuard) ProbeImage(ctx context.Context, rawURL string) error {
	if err := g.ValidateURL(rawURL); err != nil {
		return err
	}

	return g.headImage(ctx, rawURL)
}

// headImage はURL検証を行わずにHEADリクエストを送る。
func (g *ssrfGuard) headImage(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach image URL: %w", err)
	}
	defer resp.Body.Close()
	return checkImageResponse(resp)
}

func checkImageResponse(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("image URL returned status %d", resp.StatusCode)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("URL does not serve an image (Content-Type %q)", resp.Header.Get("Content-Type"))
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

var blockedHostnames = []string{
	"localhost",
}

func isBlockedHostname(host string) bool {
	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	for _, blocked := range blockedHostnames {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return true
		}
	}
	return false
}

// compile-time interface check
var (
	_ URLGuard    = (*ssrfGuard)(nil)
	_ ImageProber = (*ssrfGuard)(nil)
)
