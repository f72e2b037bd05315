// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// BrowserCookieName はブラウザセッションIDを保持するCookieの名前。
const BrowserCookieName = "portal_sid"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var browserIDContextKey = contextKey("browser_id")

// BrowserSessionConfig はブラウザセッションCookieの設定。
type BrowserSessionConfig struct {
	MaxAge       int // 秒
	CookieSecure bool
	CookieDomain string
}

// NewBrowserSessionMiddleware はブラウザごとの不透明なセッションIDを発行・読み取るミドルウェアを返す。
// IDはサーバー側のセッションストアとトークン保存のキーになる。
// Cookieがない、またはUUIDとして不正な場合は新しいIDを発行する。
func NewBrowserSessionMiddleware(config BrowserSessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			browserID := ""
			if cookie, err := r.Cookie(BrowserCookieName); err == nil {
				if id, err := uuid.Parse(cookie.Value); err == nil {
					browserID = id.String()
				}
			}

			if browserID == "" {
				browserID = uuid.NewString()
			}
			// 有効期限を延長するため毎回設定し直す
			http.SetCookie(w, &http.Cookie{
				Name:     BrowserCookieName,
				Value:    browserID,
				Path:     "/",
				Domain:   config.CookieDomain,
				MaxAge:   config.MaxAge,
				HttpOnly: true,
				Secure:   config.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})

			next.ServeHTTP(w, r.WithContext(ContextWithBrowserID(r.Context(), browserID)))
		})
	}
}

// BrowserIDFromContext はリクエストコンテキストからブラウザセッションIDを取得する。
// ブラウザセッションミドルウェアを通過したリクエストでのみ有効。
func BrowserIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(browserIDContextKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("browser session ID not found in context")
	}
	return id, nil
}

// ContextWithBrowserID はコンテキストにブラウザセッションIDを注入する。
func ContextWithBrowserID(ctx context.Context, browserID string) context.Context {
	return context.WithValue(ctx, browserIDContextKey, browserID)
}
