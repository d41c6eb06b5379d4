package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/teebox/internal/foreup"
	"github.com/hitoshi/teebox/internal/metrics"
	"github.com/hitoshi/teebox/internal/middleware"
	"github.com/hitoshi/teebox/internal/model"
)

// maxRequestBodySize はクライアントから受け付けるリクエストボディの最大サイズ（1MB）。
const maxRequestBodySize = 1 << 20

// pendingReservationFields はベンダーへ転送する仮予約フォームの項目。
var pendingReservationFields = []string{
	"course_id", "teesheet_id", "teetime_id", "player_count", "holes", "carts", "booking_class",
}

// VendorClient はプロキシハンドラーが必要とするベンダーAPIクライアントのインターフェース。
type VendorClient interface {
	Login(ctx context.Context, username, password string) (*foreup.Response, error)
	TeeTimes(ctx context.Context, auth foreup.Auth, query url.Values) (*foreup.Response, error)
	PendingReservation(ctx context.Context, auth foreup.Auth, form url.Values) (*foreup.Response, error)
	CompleteReservation(ctx context.Context, auth foreup.Auth, pendingReservationID, courseID string) (*foreup.Response, error)
	Profile(ctx context.Context, auth foreup.Auth) (*foreup.Response, error)
}

// SaleFetcher は販売明細の一括取得インターフェース。
type SaleFetcher interface {
	Fetch(ctx context.Context, auth foreup.Auth, refs []model.SaleRef) ([]json.RawMessage, error)
}

// CourseLister はコース一覧の取得インターフェース。
type CourseLister interface {
	Courses() []model.Course
}

// ProxyHandler はベンダーAPIへの中継を行うHTTPハンドラー。
// 状態を持たず、リクエストごとに独立して処理する。
type ProxyHandler struct {
	vendor    VendorClient
	sales     SaleFetcher
	courses   CourseLister
	validator *requestValidator
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewProxyHandler はProxyHandlerを生成する。
func NewProxyHandler(vendor VendorClient, sales SaleFetcher, courses CourseLister, collector metrics.MetricsCollector, logger *slog.Logger) *ProxyHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &ProxyHandler{
		vendor:    vendor,
		sales:     sales,
		courses:   courses,
		validator: newRequestValidator(),
		metrics:   collector,
		logger:    logger,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Username string `json:"username" validate:"notblank"`
	Password string `json:"password" validate:"notblank"`
}

// completeReservationRequest は仮予約確定リクエストのボディ。
type completeReservationRequest struct {
	PendingReservationID string `json:"pending_reservation_id" validate:"notblank"`
	CourseID             string `json:"course_id" validate:"notblank"`
}

// salesRequest は販売明細一括取得リクエストのボディ。
// maxはmodel.MaxSalesPerRequestと同じ値にする。
type salesRequest struct {
	Sales []model.SaleRef `json:"sales" validate:"required,min=1,max=200,dive"`
}

// coursesResponse はコース一覧のレスポンス。
type coursesResponse struct {
	Courses []model.Course  `json:"courses"`
	User    json.RawMessage `json:"user,omitempty"`
}

// Login はベンダーへのログインを中継する。
// POST /api/login
func (h *ProxyHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeLoginRequest(r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("username and password are required"))
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		handleVendorError(w, h.logger, err)
		return
	}

	resp, err := h.vendor.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		handleVendorError(w, h.logger, err)
		return
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || !json.Valid(body) {
		h.logger.Warn("ベンダーのログイン応答を解析できませんでした",
			slog.Int("http_status", resp.Status),
			slog.Int("bytes", len(body)),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewUpstreamMalformedError("login response is empty or not JSON"))
		return
	}

	// オブジェクト応答にのみCookieを付与する。それ以外はそのまま返す
	if resp.Cookies != "" && body[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err == nil {
			cookies, _ := json.Marshal(resp.Cookies)
			obj["cookies"] = cookies
			writeJSON(w, resp.Status, obj)
			return
		}
	}

	relayJSON(w, resp.Status, body)
}

// decodeLoginRequest はJSONまたはフォーム形式のログインリクエストを読み取る。
func decodeLoginRequest(r *http.Request, req *loginRequest) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		return nil
	}
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(req)
}

// TeeTimes はティータイム検索を中継する。クエリは加工せずに転送し、応答もそのまま返す。
// GET /api/teetimes
func (h *ProxyHandler) TeeTimes(w http.ResponseWriter, r *http.Request) {
	resp, err := h.vendor.TeeTimes(r.Context(), vendorAuth(r), r.URL.Query())
	if err != nil {
		handleVendorError(w, h.logger, err)
		return
	}
	relay(w, resp)
}

// Courses は静的なコース一覧を返す。
// 認証ヘッダーがある場合はベンダーのプロフィールをuserとして添付する。取得に失敗しても一覧は返す。
// GET /api/courses
func (h *ProxyHandler) Courses(w http.ResponseWriter, r *http.Request) {
	out := coursesResponse{Courses: h.courses.Courses()}

	if creds, ok := middleware.CredentialsFromRequest(r); ok {
		resp, err := h.vendor.Profile(r.Context(), foreup.Auth{Token: creds.Token, Cookies: creds.Cookies})
		switch {
		case err != nil:
			h.logger.Warn("プロフィールの取得に失敗しました", slog.String("error", err.Error()))
		case !resp.OK():
			h.logger.Warn("プロフィールの取得でエラーステータスが返されました", slog.Int("http_status", resp.Status))
		default:
			body := bytes.TrimSpace(resp.Body)
			if len(body) > 0 && body[0] == '{' && json.Valid(body) {
				out.User = json.RawMessage(body)
			}
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// PendingReservation は仮予約作成を中継する。
// 既知の項目だけをform-urlencodedで転送する。
// POST /api/pending-reservation
func (h *ProxyHandler) PendingReservation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("request body must be form-encoded"))
		return
	}

	form := url.Values{}
	for _, key := range pendingReservationFields {
		if v := strings.TrimSpace(r.PostForm.Get(key)); v != "" {
			form.Set(key, v)
		}
	}
	if form.Get("teetime_id") == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("teetime_id is required"))
		return
	}

	resp, err := h.vendor.PendingReservation(r.Context(), vendorAuth(r), form)
	if err != nil {
		handleVendorError(w, h.logger, err)
		return
	}
	relay(w, resp)
}

// CompleteReservation は仮予約の確定を中継する。
// 認証の確認はボディの検証より先にミドルウェアで行う。
// POST /api/complete-reservation
func (h *ProxyHandler) CompleteReservation(w http.ResponseWriter, r *http.Request) {
	var req completeReservationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("pending_reservation_id and course_id are required"))
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		handleVendorError(w, h.logger, err)
		return
	}

	resp, err := h.vendor.CompleteReservation(r.Context(), vendorAuth(r),
		strings.TrimSpace(req.PendingReservationID), strings.TrimSpace(req.CourseID))
	if err != nil {
		handleVendorError(w, h.logger, err)
		return
	}
	relay(w, resp)
}

// Sales は販売明細を一括取得し、リクエスト順の配列で返す。
// POST /api/sales
func (h *ProxyHandler) Sales(w http.ResponseWriter, r *http.Request) {
	var req salesRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("request body must be {\"sales\":[{\"sale_id\",\"course_id\"}]}"))
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		handleVendorError(w, h.logger, err)
		return
	}

	h.metrics.RecordSalesBatch(len(req.Sales))

	details, err := h.sales.Fetch(r.Context(), vendorAuth(r), req.Sales)
	if err != nil {
		handleVendorError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// vendorAuth はミドルウェアが注入した認証情報をベンダー用に変換する。
func vendorAuth(r *http.Request) foreup.Auth {
	creds, _ := middleware.CredentialsFromContext(r.Context())
	return foreup.Auth{Token: creds.Token, Cookies: creds.Cookies}
}

// relay はベンダーの応答をステータスとボディを保ったまま返す。
func relay(w http.ResponseWriter, resp *foreup.Response) {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// relayJSON はJSONボディをそのまま返す。
func relayJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
