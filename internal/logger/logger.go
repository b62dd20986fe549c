// Package logger はJSON構造化ログの設定を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted は秘匿属性の値を置き換える文字列。
const Redacted = "[REDACTED]"

// sensitiveKeys は値を出力しない属性キー（小文字）。
var sensitiveKeys = map[string]struct{}{
	"token":          {},
	"access_token":   {},
	"accesstoken":    {},
	"password":       {},
	"password_hash":  {},
	"secret":         {},
	"payload_secret": {},
	"token_secret":   {},
	"cookie":         {},
	"csrf_token":     {},
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// トークンやパスワードなどの属性は値を伏せて出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}
