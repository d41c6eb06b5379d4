// Package foreup は予約ベンダーAPIのクライアントを提供する。
// ヘッダー付与・Cookie中継・エンコード変換のみを行い、応答ボディは加工しない。
package foreup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/teebox/internal/metrics"
	"github.com/hitoshi/teebox/internal/model"
)

// ベンダーAPIのパス。ベースURLに連結して使用する。
const (
	loginPath               = "/index.php/api/booking/users/login"
	teeTimesPath            = "/index.php/api/booking/times"
	pendingReservationPath  = "/index.php/api/booking/pending_reservation"
	completeReservationPath = "/index.php/api/booking/users/reservations"
	profilePath             = "/index.php/api/booking/users/profile"
	salePath                = "/index.php/api/booking/users/sales/"

	userAgent = "Teebox/1.0 (+booking proxy)"

	// maxBodySize はベンダー応答として読み込む最大サイズ（5MB）。
	maxBodySize = 5 * 1024 * 1024
)

// メトリクスの操作名。
const (
	OpLogin               = "login"
	OpTeeTimes            = "teetimes"
	OpPendingReservation  = "pending_reservation"
	OpCompleteReservation = "complete_reservation"
	OpProfile             = "profile"
	OpSale                = "sale"
)

// Auth はベンダーへ中継する認証情報。
type Auth struct {
	Token   string // JWT（X-Authorization: Bearer として送信）
	Cookies string // ベンダーのセッションCookie（Cookieヘッダーとして送信）
}

// Response はベンダー応答をそのまま保持する。
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Cookies     string // ログイン時にベンダーが設定したCookie（"name=value; ..." 形式）
}

// OK はステータスが2xxかを返す。
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client は予約ベンダーAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	baseURL    string
	apiKey     string
}

// NewClient はClientの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewClient(httpClient *http.Client, logger *slog.Logger, collector metrics.MetricsCollector, baseURL, apiKey string) *Client {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Login はユーザー名とパスワードでベンダーにログインする。
// ベンダーが設定したCookieはResponse.Cookiesに格納する。
func (c *Client) Login(ctx context.Context, username, password string) (*Response, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("api_key", c.apiKey)

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()), Auth{})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// リクエストごとに専用のCookieJarを使い、他ユーザーのCookieと混ざらないようにする
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("CookieJarの作成に失敗しました: %w", err)
	}
	httpClient := *c.httpClient
	httpClient.Jar = jar

	resp, err := c.do(&httpClient, req, OpLogin)
	if err != nil {
		return nil, err
	}
	resp.Cookies = formatCookies(jar.Cookies(req.URL))
	return resp, nil
}

// TeeTimes はティータイムを検索する。クエリはそのまま転送し、api_keyのみ上書きする。
func (c *Client) TeeTimes(ctx context.Context, auth Auth, query url.Values) (*Response, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("api_key", c.apiKey)

	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+teeTimesPath+"?"+q.Encode(), nil, auth)
	if err != nil {
		return nil, err
	}
	return c.do(c.httpClient, req, OpTeeTimes)
}

// PendingReservation は仮予約を作成する。フォームはform-urlencodedで転送する。
func (c *Client) PendingReservation(ctx context.Context, auth Auth, form url.Values) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+pendingReservationPath, strings.NewReader(form.Encode()), auth)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(c.httpClient, req, OpPendingReservation)
}

// CompleteReservation は仮予約を確定する。
func (c *Client) CompleteReservation(ctx context.Context, auth Auth, pendingReservationID, courseID string) (*Response, error) {
	payload, err := json.Marshal(map[string]string{
		"pending_reservation_id": pendingReservationID,
		"course_id":              courseID,
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+completeReservationPath, bytes.NewReader(payload), auth)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.httpClient, req, OpCompleteReservation)
}

// Profile はログイン中ユーザーのプロフィールを取得する。
func (c *Client) Profile(ctx context.Context, auth Auth) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+profilePath, nil, auth)
	if err != nil {
		return nil, err
	}
	return c.do(c.httpClient, req, OpProfile)
}

// Sale は販売明細1件を取得する。
func (c *Client) Sale(ctx context.Context, auth Auth, ref model.SaleRef) (*Response, error) {
	q := url.Values{}
	q.Set("course_id", ref.CourseID)
	q.Set("api_key", c.apiKey)

	reqURL := c.baseURL + salePath + url.PathEscape(ref.SaleID) + "?" + q.Encode()
	req, err := c.newRequest(ctx, http.MethodGet, reqURL, nil, auth)
	if err != nil {
		return nil, err
	}
	return c.do(c.httpClient, req, OpSale)
}

// newRequest はベンダー共通ヘッダーを付与したリクエストを生成する。
func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader, auth Auth) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/javascript, */*")
	if auth.Token != "" {
		req.Header.Set("X-Authorization", "Bearer "+auth.Token)
	}
	if auth.Cookies != "" {
		req.Header.Set("Cookie", auth.Cookies)
	}
	return req, nil
}

// do はリクエストを実行し、ボディを読み切ったResponseを返す。
// 通信エラーとボディ読み取りエラーは TransportFailure として返す。
func (c *Client) do(httpClient *http.Client, req *http.Request, op string) (*Response, error) {
	start := time.Now()

	resp, err := httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamCall(op, metrics.OutcomeTransport, time.Since(start))
		c.logger.Error("ベンダーAPIの呼び出しに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return nil, model.NewTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.metrics.RecordUpstreamCall(op, metrics.OutcomeTransport, time.Since(start))
		c.logger.Error("ベンダー応答の読み取りに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return nil, model.NewTransportError(err)
	}

	outcome := metrics.OutcomeOK
	if resp.StatusCode >= 400 {
		outcome = metrics.OutcomeHTTPError
		c.logger.Warn("ベンダーAPIがエラーステータスを返しました",
			slog.String("operation", op),
			slog.Int("http_status", resp.StatusCode),
		)
	}
	c.metrics.RecordUpstreamCall(op, outcome, time.Since(start))

	c.logger.Debug("ベンダーAPIを呼び出しました",
		slog.String("operation", op),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("bytes", len(body)),
	)

	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// formatCookies はCookieを "name=value; name2=value2" 形式に連結する。
func formatCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}
