// Package guard はルートガードの状態機械を提供する。
//
// 公開ルート・認証状態・ナビゲーションツリーから、ナビゲーションごとに
// 許可・ログインへのリダイレクト・権限エラーへのリダイレクトを決定する。
// サーバー側ミドルウェアとクライアント側のガードAPIの両方がこの判定を使う。
// 判定は副作用を持たず、セッションや権限の状態を変更しない。
package guard

import (
	"net/url"
	"strings"

	"github.com/hitoshi/tenantdesk/internal/permission"
)

// State はガードの状態。
type State int

const (
	Idle State = iota
	Checking
	Allowed
	RedirectLogin
	RedirectUnauthorized
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case Allowed:
		return "allowed"
	case RedirectLogin:
		return "redirect_login"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	default:
		return "unknown"
	}
}

// MarshalText はJSONで状態名を出力するために使う。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal は終端状態かどうかを返す。
func (s State) Terminal() bool {
	return s == Allowed || s == RedirectLogin || s == RedirectUnauthorized
}

// Config はガードの設定。
type Config struct {
	// PublicRoutes は認証・権限チェックを行わないパス。
	// 末尾が "/*" のエントリは配下のパスすべてにマッチする。
	PublicRoutes []string
	// LoginPath は未認証時のリダイレクト先。
	LoginPath string
	// UnauthorizedPath は権限不足時のリダイレクト先。
	UnauthorizedPath string
	// ReturnParam はログイン後の復帰先を渡すクエリパラメータ名。
	ReturnParam string
}

// DefaultConfig はダッシュボードの既定設定を返す。
func DefaultConfig() Config {
	return Config{
		PublicRoutes:     []string{"/", "/login", "/signup", "/unauthorized", "/assets/*", "/favicon.ico"},
		LoginPath:        "/login",
		UnauthorizedPath: "/unauthorized",
		ReturnParam:      "returnTo",
	}
}

// Request はガードの入力。
type Request struct {
	// Pathname は評価対象のパス（クエリ文字列を含んでもよい）。
	Pathname      string
	Authenticated bool
	Navigation    permission.Tree
}

// Decision はガードの判定結果。
type Decision struct {
	State State `json:"state"`
	// RedirectTo はリダイレクト先。Allowedでも拠点切替時のフォールバックで設定される。
	RedirectTo string `json:"redirectTo,omitempty"`
	// ReturnTo はログイン後に復帰するパス（RedirectLoginのみ）。
	ReturnTo    string                 `json:"returnTo,omitempty"`
	Permissions permission.Permissions `json:"permissions"`
}

// Guard はルートガードの状態機械。
type Guard struct {
	config       Config
	onTransition func(from, to State)
}

// New は新しいGuardを生成する。空の設定項目にはDefaultConfigの値を使う。
func New(cfg Config) *Guard {
	def := DefaultConfig()
	if cfg.LoginPath == "" {
		cfg.LoginPath = def.LoginPath
	}
	if cfg.UnauthorizedPath == "" {
		cfg.UnauthorizedPath = def.UnauthorizedPath
	}
	if cfg.ReturnParam == "" {
		cfg.ReturnParam = def.ReturnParam
	}
	return &Guard{config: cfg}
}

// OnTransition は状態遷移の通知先を登録する（メトリクス用）。
func (g *Guard) OnTransition(fn func(from, to State)) {
	g.onTransition = fn
}

// Config はガードの設定を返す。
func (g *Guard) Config() Config {
	return g.config
}

// Evaluate はナビゲーション1回分の判定を行う。
// Idle → Checking → 終端状態 の順に1パスで遷移する。
func (g *Guard) Evaluate(req Request) Decision {
	g.transition(Idle, Checking)
	d := g.decide(req)
	g.transition(Checking, d.State)
	return d
}

// EvaluateContextSwitch は拠点・テナントの切り替え後に、新しいコンテキストの
// ナビゲーションツリーで現在のパスを再評価する。
// 許可されなくなった場合は汎用の権限エラーページではなく、
// 新しいツリーで最初にアクセス可能なURLへリダイレクトする。
func (g *Guard) EvaluateContextSwitch(req Request) Decision {
	g.transition(Idle, Checking)
	d := g.decide(req)
	if d.State == RedirectUnauthorized {
		if first, ok := permission.FirstAccessibleURL(req.Navigation); ok {
			d = Decision{
				State:       Allowed,
				RedirectTo:  first,
				Permissions: permission.ResolveForPath(req.Navigation, first),
			}
		}
	}
	g.transition(Checking, d.State)
	return d
}

// IsPublic はパスが公開ルートかどうかを判定する。
func (g *Guard) IsPublic(pathname string) bool {
	p := permission.NormalizePath(pathname)
	for _, route := range g.config.PublicRoutes {
		if prefix, ok := strings.CutSuffix(route, "/*"); ok {
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				return true
			}
			continue
		}
		if p == permission.NormalizePath(route) {
			return true
		}
	}
	return false
}

// LoginRedirect は復帰先パスを付けたログインURLを返す。
func (g *Guard) LoginRedirect(returnTo string) string {
	if returnTo == "" || returnTo == g.config.LoginPath {
		return g.config.LoginPath
	}
	q := url.Values{}
	q.Set(g.config.ReturnParam, returnTo)
	return g.config.LoginPath + "?" + q.Encode()
}

func (g *Guard) decide(req Request) Decision {
	if g.IsPublic(req.Pathname) {
		return Decision{State: Allowed}
	}

	if !req.Authenticated {
		return Decision{
			State:      RedirectLogin,
			RedirectTo: g.LoginRedirect(req.Pathname),
			ReturnTo:   req.Pathname,
		}
	}

	perms := permission.ResolveForPath(req.Navigation, req.Pathname)
	if !perms.Read {
		return Decision{
			State:       RedirectUnauthorized,
			RedirectTo:  g.config.UnauthorizedPath,
			Permissions: perms,
		}
	}

	return Decision{State: Allowed, Permissions: perms}
}

func (g *Guard) transition(from, to State) {
	if g.onTransition != nil {
		g.onTransition(from, to)
	}
}
