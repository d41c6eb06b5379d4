package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/teebox/internal/model"
	"github.com/hitoshi/teebox/internal/store"
)

// 永続化するキー。ログアウト時にはすべて同時に削除する。
const (
	KeyJWTToken         = "jwt_token"
	KeyUserName         = "user_name"
	KeyForeUpCookies    = "foreup_cookies"
	KeyLoginData        = "login_data"
	KeyUserBookings     = "user_bookings"
	KeyFinancialDetails = "user_financial_details_cache"
	KeyPendingHold      = "pending_reservation"
)

// LoginAPI はログインに必要なプロキシAPI。
type LoginAPI interface {
	Login(ctx context.Context, username, password string) ([]byte, error)
}

// SessionSource は現在のセッションを提供する。
type SessionSource interface {
	Current(ctx context.Context) (*model.Session, error)
}

// SessionManager はログイン状態をストアに保存・復元する。
type SessionManager struct {
	api    LoginAPI
	store  store.Store
	logger *slog.Logger
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(api LoginAPI, st store.Store, logger *slog.Logger) *SessionManager {
	return &SessionManager{api: api, store: st, logger: logger}
}

// Login はプロキシ経由でログインし、トークン・表示名・Cookie・プロフィールを保存する。
// 応答にjwtが含まれない場合は UpstreamEmptyOrMalformed とする。
func (m *SessionManager) Login(ctx context.Context, username, password string) (*model.Session, error) {
	if username == "" || password == "" {
		return nil, model.NewValidationError("username and password are required")
	}

	body, err := m.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	profile, err := model.DecodeProfile(body)
	if err != nil {
		return nil, model.NewUpstreamMalformedError("login response is not a profile object")
	}
	if profile.JWT == "" {
		return nil, model.NewUpstreamMalformedError("login response has no jwt")
	}

	session := &model.Session{
		JWTToken:      profile.JWT,
		VendorCookies: profile.Cookies,
		UserName:      profile.DisplayName(),
		ProfileBlob:   json.RawMessage(body),
	}

	values := []struct{ key, value string }{
		{KeyJWTToken, session.JWTToken},
		{KeyUserName, session.UserName},
		{KeyLoginData, string(body)},
	}
	for _, kv := range values {
		if err := m.store.Set(ctx, kv.key, kv.value); err != nil {
			return nil, fmt.Errorf("failed to save session: %w", err)
		}
	}

	// 前回ログイン時のCookieを残さない
	if session.VendorCookies != "" {
		err = m.store.Set(ctx, KeyForeUpCookies, session.VendorCookies)
	} else {
		err = m.store.Delete(ctx, KeyForeUpCookies)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.logger.Info("ログインしました", slog.String("user_name", session.UserName))
	return session, nil
}

// Current は保存済みのセッションを返す。トークンが無い場合は AuthRequired を返す。
func (m *SessionManager) Current(ctx context.Context) (*model.Session, error) {
	token, ok, err := m.store.Get(ctx, KeyJWTToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !ok || token == "" {
		return nil, model.NewAuthRequiredError()
	}

	session := &model.Session{JWTToken: token}
	if session.VendorCookies, _, err = m.store.Get(ctx, KeyForeUpCookies); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.UserName, _, err = m.store.Get(ctx, KeyUserName); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	blob, ok, err := m.store.Get(ctx, KeyLoginData)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if ok {
		session.ProfileBlob = json.RawMessage(blob)
	}
	return session, nil
}

// Logout は保存済みのキーをすべて削除する。
func (m *SessionManager) Logout(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	m.logger.Info("ログアウトしました")
	return nil
}

// profileOf はセッションのプロフィールをデコードする。
// 保存値が壊れている場合はnilを返し、呼び出し側は空のプロフィールとして扱う。
func profileOf(s *model.Session) *model.Profile {
	if s == nil || len(s.ProfileBlob) == 0 {
		return nil
	}
	p, err := model.DecodeProfile(s.ProfileBlob)
	if err != nil {
		return nil
	}
	return p
}
