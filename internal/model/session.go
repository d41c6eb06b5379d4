package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Session はクライアント側に保持されるログイン状態を表す。
// トークン・Cookie・プロフィールはいずれもベンダー由来の不透明な値。
type Session struct {
	JWTToken      string
	VendorCookies string
	UserName      string
	ProfileBlob   json.RawMessage
}

// Authenticated はトークンを保持しているかを返す。
func (s *Session) Authenticated() bool {
	return s != nil && s.JWTToken != ""
}

// Profile はログイン応答（プロフィール）のうちクライアントが参照する部分。
type Profile struct {
	JWT       string   `json:"jwt"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Cookies   string   `json:"cookies,omitempty"`
	Passes    PassList `json:"passes"`
}

// DisplayName は "名 姓" 形式の表示名を返す。
func (p *Profile) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Pass は会員権（パス）を表す。Usesは利用履歴。
type Pass struct {
	PassID FlexString `json:"pass_id"`
	Name   string     `json:"name"`
	Uses   []PassUse  `json:"uses"`
}

// PassUse はパスの利用履歴1件。
type PassUse struct {
	SaleID     FlexString `json:"sale_id"`
	TeeSheetID FlexString `json:"teesheet_id"`
	Date       string     `json:"date"`
}

// PassList はパス一覧。
// ベンダーは配列またはIDをキーとしたオブジェクトのどちらかで返すため両方を受け付ける。
// オブジェクトの場合はキー順に並べ、先頭要素を決定的にする。
type PassList []Pass

// UnmarshalJSON は配列・オブジェクト・nullを受け付ける。
func (l *PassList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" || string(b) == "false" {
		*l = nil
		return nil
	}

	switch b[0] {
	case '[':
		var passes []Pass
		if err := json.Unmarshal(b, &passes); err != nil {
			return fmt.Errorf("passes: %w", err)
		}
		*l = passes
		return nil
	case '{':
		var byID map[string]Pass
		if err := json.Unmarshal(b, &byID); err != nil {
			return fmt.Errorf("passes: %w", err)
		}
		keys := make([]string, 0, len(byID))
		for k := range byID {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		passes := make([]Pass, 0, len(keys))
		for _, k := range keys {
			passes = append(passes, byID[k])
		}
		*l = passes
		return nil
	default:
		return fmt.Errorf("passes: unsupported value %s", string(b))
	}
}

// DecodeProfile は保存済みのプロフィールJSONをデコードする。
// JSONオブジェクト以外は ErrUpstreamMalformed として扱う。
func DecodeProfile(blob []byte) (*Profile, error) {
	blob = bytes.TrimSpace(blob)
	if len(blob) == 0 || blob[0] != '{' {
		return nil, fmt.Errorf("profile is not a JSON object: %w", ErrUpstreamMalformed)
	}
	var p Profile
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %v: %w", err, ErrUpstreamMalformed)
	}
	return &p, nil
}
