// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/teebox/internal/model"
)

// VendorCookiesHeader はクライアントがベンダーのセッションCookieを渡すためのヘッダー。
const VendorCookiesHeader = "X-ForeUp-Cookies"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// credentialsContextKey はリクエストコンテキストに認証情報を格納するためのキー。
var credentialsContextKey = contextKey("credentials")

// Credentials はクライアントから受け取ったベンダー認証情報。
// プロキシは内容を検証せず、そのままベンダーへ中継する。
type Credentials struct {
	Token   string
	Cookies string
}

// CredentialsFromRequest はAuthorizationヘッダーとX-ForeUp-Cookiesヘッダーを読み取る。
// Bearerトークンが無い場合はok=falseを返す。
func CredentialsFromRequest(r *http.Request) (Credentials, bool) {
	creds := Credentials{
		Token:   bearerToken(r.Header.Get("Authorization")),
		Cookies: strings.TrimSpace(r.Header.Get(VendorCookiesHeader)),
	}
	return creds, creds.Token != ""
}

// NewRequireAuthMiddleware はBearerトークンを必須とするミドルウェアを返す。
// トークンが無いリクエストには本文の検証より先に401を返す。
func NewRequireAuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := CredentialsFromRequest(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithCredentials(r.Context(), creds)))
		})
	}
}

// CredentialsFromContext はリクエストコンテキストから認証情報を取得する。
// NewRequireAuthMiddlewareを通過したリクエストでのみ有効。
func CredentialsFromContext(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(credentialsContextKey).(Credentials)
	return creds, ok && creds.Token != ""
}

// ContextWithCredentials はコンテキストに認証情報を注入する。
func ContextWithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsContextKey, creds)
}

// bearerToken は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
