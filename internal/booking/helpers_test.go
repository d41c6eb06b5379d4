package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"testing"

	"github.com/hitoshi/teebox/internal/catalog"
	"github.com/hitoshi/teebox/internal/model"
	"github.com/hitoshi/teebox/internal/store"
)

// --- モック定義 ---

type mockSessions struct {
	session *model.Session
	err     error
}

func (m *mockSessions) Current(ctx context.Context) (*model.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.session == nil {
		return nil, model.NewAuthRequiredError()
	}
	return m.session, nil
}

type mockLoginAPI struct {
	loginFn func(ctx context.Context, username, password string) ([]byte, error)
}

func (m *mockLoginAPI) Login(ctx context.Context, username, password string) ([]byte, error) {
	return m.loginFn(ctx, username, password)
}

type mockTeeTimeAPI struct {
	teeTimesFn func(ctx context.Context, creds Credentials, q TeeTimeQuery) ([]byte, error)
	calls      []TeeTimeQuery
}

func (m *mockTeeTimeAPI) TeeTimes(ctx context.Context, creds Credentials, q TeeTimeQuery) ([]byte, error) {
	m.calls = append(m.calls, q)
	return m.teeTimesFn(ctx, creds, q)
}

type mockSalesAPI struct {
	salesFn func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error)
	calls   [][]model.SaleRef
}

func (m *mockSalesAPI) Sales(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
	m.calls = append(m.calls, refs)
	return m.salesFn(ctx, creds, refs)
}

type mockReservationAPI struct {
	pendingFn  func(ctx context.Context, creds Credentials, form url.Values) ([]byte, error)
	completeFn func(ctx context.Context, creds Credentials, pendingID, courseID string) ([]byte, error)
	forms      []url.Values
	completes  []string
}

func (m *mockReservationAPI) PendingReservation(ctx context.Context, creds Credentials, form url.Values) ([]byte, error) {
	m.forms = append(m.forms, form)
	return m.pendingFn(ctx, creds, form)
}

func (m *mockReservationAPI) CompleteReservation(ctx context.Context, creds Credentials, pendingID, courseID string) ([]byte, error) {
	m.completes = append(m.completes, pendingID)
	return m.completeFn(ctx, creds, pendingID, courseID)
}

// failingStore は読み込みを常に失敗させるストア。
type failingStore struct {
	store.Store
	getErr error
}

func (s *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, s.getErr
}

// --- テストヘルパー ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default() error: %v", err)
	}
	return c
}

// sessionWithProfile はプロフィールJSONを持つセッションを作る。
func sessionWithProfile(t *testing.T, profile map[string]any) *model.Session {
	t.Helper()
	blob, err := json.Marshal(profile)
	if err != nil {
		t.Fatal(err)
	}
	return &model.Session{JWTToken: "tok", VendorCookies: "PHPSESSID=x", ProfileBlob: blob}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
