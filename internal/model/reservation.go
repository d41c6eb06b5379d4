package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// PendingReservation はベンダー側で作成された仮予約。
// 確定（Confirm）されるまで本予約にはならない。
type PendingReservation struct {
	ID  string
	Raw json.RawMessage
}

// Confirmation は仮予約確定の結果。ベンダーによってはIDを返さない。
type Confirmation struct {
	ReservationID string
	Raw           json.RawMessage
}

// BookingReceipt は予約確定後にローカルへ保存する控え。
type BookingReceipt struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id,omitempty"`
	CourseID      string    `json:"course_id"`
	CourseName    string    `json:"course_name"`
	TeeTime       string    `json:"tee_time"`
	Players       int       `json:"players"`
	Holes         int       `json:"holes"`
	Carts         bool      `json:"carts"`
	BookedAt      time.Time `json:"booked_at"`
}

// PendingHold は確定前の仮予約をストアに保存する形式。
// 確定に失敗したまま終了しても、この情報から確定をやり直せる。
type PendingHold struct {
	PendingReservationID string    `json:"pending_reservation_id"`
	CourseID             string    `json:"course_id"`
	FacilityID           string    `json:"facility_id"`
	TeetimeID            string    `json:"teetime_id"`
	TeeTime              string    `json:"tee_time"`
	CourseName           string    `json:"course_name"`
	Players              int       `json:"players"`
	Holes                int       `json:"holes"`
	Carts                bool      `json:"carts"`
	CreatedAt            time.Time `json:"created_at"`
}

// pendingIDPaths は仮予約IDを探すJSONパスを優先順に並べたもの。
var pendingIDPaths = [][]string{
	{"pending_reservation_id"},
	{"id"},
	{"data", "id"},
	{"data", "attributes", "pending_reservation_id"},
}

// confirmationIDPaths は確定予約IDを探すJSONパスを優先順に並べたもの。
var confirmationIDPaths = [][]string{
	{"reservation_id"},
	{"TTID"},
	{"ttid"},
	{"id"},
	{"data", "id"},
}

// DecodePendingReservation は仮予約作成の応答をデコードする。
// オブジェクトでない、success:false、IDが見つからない場合はエラーを返す。
func DecodePendingReservation(body []byte) (*PendingReservation, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	if err := checkRejected(obj); err != nil {
		return nil, err
	}

	id, ok := lookupFirst(obj, pendingIDPaths)
	if !ok {
		return nil, NewUpstreamMalformedError("pending reservation id missing")
	}
	return &PendingReservation{ID: id, Raw: json.RawMessage(bytes.TrimSpace(body))}, nil
}

// DecodeConfirmation は仮予約確定の応答をデコードする。
// オブジェクトでない、またはsuccess:falseの場合はエラーを返す。
func DecodeConfirmation(body []byte) (*Confirmation, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	if err := checkRejected(obj); err != nil {
		return nil, err
	}

	id, _ := lookupFirst(obj, confirmationIDPaths)
	return &Confirmation{ReservationID: id, Raw: json.RawMessage(bytes.TrimSpace(body))}, nil
}

// decodeObject はボディをJSONオブジェクトとしてデコードする。
func decodeObject(body []byte) (map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, NewUpstreamMalformedError("empty body")
	}
	if body[0] != '{' {
		return nil, NewUpstreamMalformedError("expected a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, NewUpstreamMalformedError(err.Error())
	}
	return obj, nil
}

// checkRejected は success:false の応答をベンダー拒否エラーに変換する。
func checkRejected(obj map[string]any) error {
	success, ok := obj["success"].(bool)
	if !ok || success {
		return nil
	}
	for _, key := range []string{"msg", "message", "error"} {
		if msg, ok := obj[key].(string); ok && msg != "" {
			return NewVendorRejectedError(msg)
		}
	}
	return NewVendorRejectedError("")
}

// lookupFirst はpathsを順に辿り、最初に見つかった非空の値を文字列で返す。
func lookupFirst(obj map[string]any, paths [][]string) (string, bool) {
	for _, path := range paths {
		if v, ok := lookupString(obj, path); ok {
			return v, true
		}
	}
	return "", false
}

// lookupString はネストしたオブジェクトをpathに沿って辿る。
func lookupString(obj map[string]any, path []string) (string, bool) {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[key]
		if !ok {
			return "", false
		}
	}

	switch v := cur.(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// LookupString はJSONオブジェクトのトップレベル文字列項目を取得する。
// 数値も文字列として返す。
func LookupString(body []byte, key string) (string, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return "", err
	}
	v, _ := lookupString(obj, []string{key})
	return v, nil
}
