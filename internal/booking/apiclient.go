// Package booking はプロキシ経由でティータイムを予約するクライアント側のロジックを提供する。
// セッション管理、予約クラスのフォールバック検索、財務明細キャッシュ、予約の状態遷移を含む。
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/teebox/internal/middleware"
	"github.com/hitoshi/teebox/internal/model"
)

const (
	// maxResponseSize はプロキシ応答の最大読み取りサイズ（5MB）。
	maxResponseSize = 5 * 1024 * 1024

	// teeTimeDateLayout はベンダーが受け付ける検索日付の書式。
	teeTimeDateLayout = "01-02-2006"
)

// Credentials はプロキシへ渡す認証情報。
type Credentials struct {
	Token   string
	Cookies string
}

// credentialsOf はセッションから認証情報を取り出す。
func credentialsOf(s *model.Session) Credentials {
	return Credentials{Token: s.JWTToken, Cookies: s.VendorCookies}
}

// TeeTimeQuery はティータイム検索の条件。
type TeeTimeQuery struct {
	Date           time.Time
	FacilityID     string
	CourseID       string
	BookingClassID string
}

// Values はベンダーのクエリパラメータ形式に変換する。api_keyはプロキシが付与する。
func (q TeeTimeQuery) Values() url.Values {
	v := url.Values{}
	v.Set("time", "all")
	v.Set("date", q.Date.Format(teeTimeDateLayout))
	v.Set("holes", "all")
	v.Set("players", "0")
	v.Set("booking_class", q.BookingClassID)
	v.Set("schedule_id", q.FacilityID)
	v.Add("schedule_ids[]", q.FacilityID)
	v.Set("course_id", q.CourseID)
	v.Set("specials_only", "0")
	return v
}

// CoursesResult は /api/courses の応答。
type CoursesResult struct {
	Courses []model.Course  `json:"courses"`
	User    json.RawMessage `json:"user,omitempty"`
}

// APIClient はEdge ProxyのHTTPクライアント。
type APIClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewAPIClient はAPIClientを生成する。baseURLの末尾のスラッシュは取り除く。
func NewAPIClient(httpClient *http.Client, logger *slog.Logger, baseURL string) *APIClient {
	return &APIClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Login はログインを行い、プロキシが返したプロフィールJSONをそのまま返す。
func (c *APIClient) Login(ctx context.Context, username, password string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode login request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/login", bytes.NewReader(payload), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Courses はコース一覧を取得する。credsがnilの場合は認証ヘッダーを付けない。
func (c *APIClient) Courses(ctx context.Context, creds *Credentials) (*CoursesResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/courses", nil, creds)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result CoursesResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, model.NewUpstreamMalformedError(err.Error())
	}
	return &result, nil
}

// TeeTimes はティータイム検索を行い、応答ボディを加工せずに返す。
func (c *APIClient) TeeTimes(ctx context.Context, creds Credentials, q TeeTimeQuery) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/teetimes?"+q.Values().Encode(), nil, &creds)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// PendingReservation は仮予約をform-urlencodedで作成する。
func (c *APIClient) PendingReservation(ctx context.Context, creds Credentials, form url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/pending-reservation", strings.NewReader(form.Encode()), &creds)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// CompleteReservation は仮予約を確定する。
func (c *APIClient) CompleteReservation(ctx context.Context, creds Credentials, pendingReservationID, courseID string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"pending_reservation_id": pendingReservationID,
		"course_id":              courseID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reservation request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/complete-reservation", bytes.NewReader(payload), &creds)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Sales は販売明細を一括取得する。
func (c *APIClient) Sales(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
	payload, err := json.Marshal(map[string][]model.SaleRef{"sales": refs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sales request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/sales", bytes.NewReader(payload), &creds)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, body io.Reader, creds *Credentials) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if creds != nil {
		if creds.Token != "" {
			req.Header.Set("Authorization", "Bearer "+creds.Token)
		}
		if creds.Cookies != "" {
			req.Header.Set(middleware.VendorCookiesHeader, creds.Cookies)
		}
	}
	return req, nil
}

// do はリクエストを送信し、2xxの場合はボディを返す。
// 通信失敗は TransportFailure、それ以外のステータスは応答内容に応じたAPIErrorに変換する。
func (c *APIClient) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("プロキシへのリクエストに失敗しました",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, model.NewTransportError(fmt.Errorf("failed to read response body: %w", err))
	}

	c.logger.Debug("プロキシ応答を受信しました",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp.StatusCode, body)
	}
	return body, nil
}

// errorFromResponse は失敗応答をAPIErrorに変換する。
// プロキシのエラー形式 {error, code} を優先し、次にベンダーの {success:false, msg} を解釈する。
func errorFromResponse(status int, body []byte) *model.APIError {
	var proxyErr middleware.ErrorResponseBody
	if err := json.Unmarshal(body, &proxyErr); err == nil && proxyErr.Code != "" {
		apiErr := &model.APIError{Code: proxyErr.Code, Message: proxyErr.Error}
		switch proxyErr.Code {
		case model.ErrCodeAuthRequired:
			apiErr.Category, apiErr.Err = "auth", model.ErrAuthRequired
		case model.ErrCodeUpstreamMalformed:
			apiErr.Category, apiErr.Err = "upstream", model.ErrUpstreamMalformed
		case model.ErrCodeTransport:
			apiErr.Category, apiErr.Err = "system", model.ErrTransport
		case model.ErrCodeVendorRejected:
			apiErr.Category, apiErr.Err = "upstream", model.ErrVendorRejected
		case model.ErrCodeNotFound:
			apiErr.Category = "not_found"
		case model.ErrCodeRateLimited, model.ErrCodeInternal:
			apiErr.Category = "system"
		default:
			apiErr.Category = "validation"
		}
		return apiErr
	}

	if msg, err := model.LookupString(body, "msg"); err == nil && msg != "" {
		return model.NewVendorRejectedError(msg)
	}
	if msg, err := model.LookupString(body, "message"); err == nil && msg != "" {
		return model.NewVendorRejectedError(msg)
	}
	return model.NewVendorRejectedError(fmt.Sprintf("booking service returned HTTP %d", status))
}
