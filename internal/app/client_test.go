package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/teebox/internal/model"
)

// fakeProxy はEdge Proxyの応答を返すテスト用サーバー。
type fakeProxy struct {
	mu        sync.Mutex
	forms     []map[string]string
	completes []string
	sales     int
	failNext  bool
}

func (p *fakeProxy) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"msg":"Invalid username or password"}`))
			return
		}
		w.Write([]byte(`{"jwt":"tok-1","first_name":"Pat","last_name":"Golfer","cookies":"PHPSESSID=abc",
			"passes":[{"name":"Senior Annual Pass","uses":[{"sale_id":"100","teesheet_id":"2431"}]}]}`))
	})

	mux.HandleFunc("GET /api/courses", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{"courses": []model.Course{{Name: "Harbor Links", CourseID: "19765", FacilityID: "2431"}}}
		if r.Header.Get("Authorization") != "" {
			out["user"] = map[string]string{"first_name": "Pat", "last_name": "Golfer"}
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("GET /api/teetimes", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		day, _ := time.Parse("01-02-2006", r.URL.Query().Get("date"))
		fmt.Fprintf(w, `[{"time":"%s 07:10","teesheet_id":2431,"teetime_id":"t-710","available_spots":4,"green_fee":"45.00"},
			{"time":"%s 07:20","teesheet_id":2432,"teetime_id":"t-720","available_spots":4}]`,
			day.Format(time.DateOnly), day.Format(time.DateOnly))
	})

	mux.HandleFunc("POST /api/pending-reservation", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		p.mu.Lock()
		p.forms = append(p.forms, form)
		p.mu.Unlock()
		w.Write([]byte(`{"pending_reservation_id":"pr-1"}`))
	})

	mux.HandleFunc("POST /api/complete-reservation", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.completes = append(p.completes, body["pending_reservation_id"])
		fail := p.failNext
		p.failNext = false
		p.mu.Unlock()
		if fail {
			w.Write([]byte(`{"success":false,"msg":"Tee time no longer available"}`))
			return
		}
		w.Write([]byte(`{"success":true,"reservation_id":"R-77"}`))
	})

	mux.HandleFunc("POST /api/sales", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.sales++
		p.mu.Unlock()
		w.Write([]byte(`[{"sale_id":"100","course_id":"19765","sale_time":"2026-09-01 08:00:00",
			"subtotal":"40.00","tax":"3.20","total":"43.20","items":[{"name":"Green Fee","quantity":1,"price":40}]}]`))
	})

	return mux
}

// isValidationError は入力エラーとして返されたかを判定する。
func isValidationError(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeValidation
}

// setupClient は偽プロキシとSQLiteストアを用意し、クライアントコマンドを実行する関数を返す。
func setupClient(t *testing.T) (*fakeProxy, func(args ...string) (string, error)) {
	t.Helper()
	proxy := &fakeProxy{}
	server := httptest.NewServer(proxy.handler(t))
	t.Cleanup(server.Close)

	t.Setenv("PROXY_URL", server.URL)
	t.Setenv("VENDOR_BASE_URL", "https://foreupsoftware.com")
	t.Setenv("STORE_URL", "sqlite://"+filepath.Join(t.TempDir(), "store.db"))
	t.Setenv("STORE_NAMESPACE", "test")
	t.Setenv("TEEBOX_PASSWORD", "")

	run := func(args ...string) (string, error) {
		var stdout bytes.Buffer
		err := Run(&stdout, io.Discard, args)
		return stdout.String(), err
	}
	return proxy, run
}

func TestClient_LoginAndCourses(t *testing.T) {
	_, run := setupClient(t)

	out, err := run("courses")
	if err != nil {
		t.Fatalf("courses: %v", err)
	}
	if strings.Contains(out, "Welcome") {
		t.Errorf("未ログイン時は利用者名を表示しないこと: %q", out)
	}

	out, err = run("login", "-username", "pat", "-password", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "Logged in as Pat Golfer") {
		t.Errorf("login output = %q", out)
	}

	out, err = run("courses")
	if err != nil {
		t.Fatalf("courses: %v", err)
	}
	if !strings.Contains(out, "Welcome, Pat Golfer") || !strings.Contains(out, "Harbor Links") {
		t.Errorf("courses output = %q", out)
	}
}

func TestClient_LoginPasswordFromEnv(t *testing.T) {
	_, run := setupClient(t)
	t.Setenv("TEEBOX_PASSWORD", "secret")

	if _, err := run("login", "-username", "pat"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestClient_LoginRejected(t *testing.T) {
	_, run := setupClient(t)

	_, err := run("login", "-username", "pat", "-password", "wrong")
	if !errors.Is(err, model.ErrVendorRejected) {
		t.Fatalf("err = %v, want ErrVendorRejected", err)
	}
	if !strings.Contains(err.Error(), "Invalid username or password") {
		t.Errorf("ベンダーのメッセージを表示すること: %v", err)
	}
}

func TestClient_TeeTimesRequiresLogin(t *testing.T) {
	_, run := setupClient(t)

	_, err := run("teetimes", "-facility", "2431")
	if !errors.Is(err, model.ErrAuthRequired) {
		t.Fatalf("err = %v, want ErrAuthRequired", err)
	}
}

func TestClient_TeeTimesFiltersByFacility(t *testing.T) {
	_, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	out, err := run("teetimes", "-facility", "2431")
	if err != nil {
		t.Fatalf("teetimes: %v", err)
	}
	if !strings.Contains(out, "t-710") || strings.Contains(out, "t-720") {
		t.Errorf("teetimes output = %q", out)
	}
	if !strings.Contains(out, "[07:00]") {
		t.Errorf("時間帯の見出しを表示すること: %q", out)
	}
}

func TestClient_SelectionErrors(t *testing.T) {
	_, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	yesterday := time.Now().AddDate(0, 0, -1).Format(time.DateOnly)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown facility", []string{"teetimes", "-facility", "1"}},
		{"bad date", []string{"teetimes", "-facility", "2431", "-date", "20/10/2026"}},
		{"past date", []string{"teetimes", "-facility", "2431", "-date", yesterday}},
		{"missing teetime", []string{"book", "-facility", "2431"}},
		{"unknown teetime", []string{"book", "-facility", "2431", "-teetime", "t-999"}},
		{"too many players", []string{"book", "-facility", "2431", "-teetime", "t-710", "-players", "5"}},
		{"bad flag", []string{"teetimes", "-nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(tt.args...); err == nil {
				t.Errorf("%v should fail", tt.args)
			}
		})
	}
}

func TestClient_BookAndListBookings(t *testing.T) {
	proxy, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	out, err := run("bookings")
	if err != nil || !strings.Contains(out, "No bookings recorded.") {
		t.Fatalf("bookings = (%q, %v)", out, err)
	}

	out, err = run("book", "-facility", "2431", "-teetime", "t-710", "-players", "2", "-carts")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !strings.Contains(out, "Pending reservation pr-1 created") || !strings.Contains(out, "Reservation R-77") {
		t.Errorf("book output = %q", out)
	}

	if len(proxy.forms) != 1 {
		t.Fatalf("pending reservation requests = %d, want 1", len(proxy.forms))
	}
	form := proxy.forms[0]
	want := map[string]string{
		"course_id": "19765", "teesheet_id": "2431", "teetime_id": "t-710",
		"player_count": "2", "holes": "18", "carts": "true", "booking_class": "3302",
	}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, form[k], v)
		}
	}

	out, err = run("bookings")
	if err != nil {
		t.Fatalf("bookings: %v", err)
	}
	if !strings.Contains(out, "Harbor Links") || !strings.Contains(out, "R-77") {
		t.Errorf("bookings output = %q", out)
	}
}

func TestClient_BookConfirmFailureShowsMessage(t *testing.T) {
	proxy, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	proxy.failNext = true

	_, err := run("book", "-facility", "2431", "-teetime", "t-710")
	if err == nil || !strings.Contains(err.Error(), "Tee time no longer available") {
		t.Fatalf("err = %v, want vendor message", err)
	}

	out, _ := run("bookings")
	if !strings.Contains(out, "No bookings recorded.") {
		t.Errorf("確定に失敗した予約は記録しないこと: %q", out)
	}
}

func TestClient_ConfirmRetriesPendingReservation(t *testing.T) {
	proxy, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	proxy.failNext = true

	_, err := run("book", "-facility", "2431", "-teetime", "t-710", "-players", "2")
	if err == nil || !strings.Contains(err.Error(), "teebox confirm") {
		t.Fatalf("err = %v, want retry hint", err)
	}

	out, err := run("confirm")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(out, "Confirming pending reservation pr-1") || !strings.Contains(out, "Reservation R-77") {
		t.Errorf("confirm output = %q", out)
	}
	if len(proxy.forms) != 1 {
		t.Errorf("pending-reservation requests = %d, want 1 (confirm must not create a new hold)", len(proxy.forms))
	}
	if len(proxy.completes) != 2 || proxy.completes[1] != "pr-1" {
		t.Errorf("complete-reservation ids = %v", proxy.completes)
	}

	out, _ = run("bookings")
	if !strings.Contains(out, "R-77") {
		t.Errorf("bookings = %q", out)
	}

	// 確定後は仮予約が残らない
	if _, err := run("confirm"); !isValidationError(err) {
		t.Errorf("second confirm err = %v, want validation error", err)
	}
}

func TestClient_ConfirmWithoutPendingReservation(t *testing.T) {
	proxy, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := run("confirm"); !isValidationError(err) {
		t.Errorf("err = %v, want validation error", err)
	}
	if len(proxy.completes) != 0 {
		t.Errorf("complete-reservation requests = %d, want 0", len(proxy.completes))
	}
}

func TestClient_LogoutDropsPendingReservation(t *testing.T) {
	proxy, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	proxy.failNext = true
	if _, err := run("book", "-facility", "2431", "-teetime", "t-710"); err == nil {
		t.Fatal("expected confirm failure")
	}

	if _, err := run("logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := run("confirm"); !isValidationError(err) {
		t.Errorf("ログアウトで仮予約も破棄すること: err = %v", err)
	}
}

func TestClient_SpendingUsesCache(t *testing.T) {
	proxy, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	out, err := run("spending")
	if err != nil {
		t.Fatalf("spending: %v", err)
	}
	if !strings.Contains(out, "1 transactions") || !strings.Contains(out, "total 43.20") {
		t.Errorf("spending output = %q", out)
	}

	if _, err := run("spending"); err != nil {
		t.Fatalf("spending (cached): %v", err)
	}
	if proxy.sales != 1 {
		t.Errorf("sales requests = %d, want 1 (second run uses the cache)", proxy.sales)
	}

	if _, err := run("spending", "-refresh"); err != nil {
		t.Fatalf("spending -refresh: %v", err)
	}
	if proxy.sales != 2 {
		t.Errorf("sales requests = %d, want 2 after -refresh", proxy.sales)
	}
}

func TestClient_SpendingCSV(t *testing.T) {
	_, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	out, err := run("spending", "-csv", "-")
	if err != nil {
		t.Fatalf("spending -csv -: %v", err)
	}
	if !strings.HasPrefix(out, "sale_id,date,course,item,quantity,price,sale_total\n") {
		t.Errorf("CSV header missing: %q", out)
	}

	path := filepath.Join(t.TempDir(), "spending.csv")
	out, err = run("spending", "-csv", path)
	if err != nil {
		t.Fatalf("spending -csv file: %v", err)
	}
	if !strings.Contains(out, "Wrote 1 transactions") {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "100,2026-09-01 08:00:00,") {
		t.Errorf("CSV = %q", string(data))
	}
}

func TestClient_LogoutClearsSession(t *testing.T) {
	_, run := setupClient(t)
	if _, err := run("login", "-username", "pat", "-password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	out, err := run("logout")
	if err != nil || !strings.Contains(out, "Logged out.") {
		t.Fatalf("logout = (%q, %v)", out, err)
	}

	if _, err := run("spending"); !errors.Is(err, model.ErrAuthRequired) {
		t.Errorf("spending after logout err = %v, want ErrAuthRequired", err)
	}
}

func TestClient_Dates(t *testing.T) {
	_, run := setupClient(t)
	t.Setenv("BOOKING_WINDOW_DAYS", "3")

	out, err := run("dates")
	if err != nil {
		t.Fatalf("dates: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header + 3 dates: %q", len(lines), out)
	}
	if !strings.Contains(lines[1], time.Now().Format(time.DateOnly)) || !strings.Contains(lines[1], "today") {
		t.Errorf("first date should be today: %q", lines[1])
	}
}

func TestClient_HelpFlagIsNotAnError(t *testing.T) {
	_, run := setupClient(t)
	if _, err := run("teetimes", "-h"); err != nil {
		t.Errorf("-h err = %v, want nil", err)
	}
}
