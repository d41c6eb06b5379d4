package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// teeTimeLayout はベンダーが返すティータイム時刻の書式。
const teeTimeLayout = "2006-01-02 15:04"

// TeeTimeSlot はベンダーが返す予約可能枠1件。
// TeetimeIDが空の枠は予約できない。
type TeeTimeSlot struct {
	Time           string     `json:"time"`
	AvailableSpots FlexInt    `json:"available_spots"`
	TeeSheetID     FlexString `json:"teesheet_id"`
	ScheduleID     FlexString `json:"schedule_id"`
	TeetimeID      FlexString `json:"teetime_id"`
	CourseName     string     `json:"course_name"`
	Holes          FlexString `json:"holes"`
	GreenFee       FlexFloat  `json:"green_fee"`
	CartFee        FlexFloat  `json:"cart_fee"`
}

// StartTime はスロットの開始時刻をパースする。
func (s TeeTimeSlot) StartTime() (time.Time, error) {
	t, err := time.Parse(teeTimeLayout, s.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid tee time %q: %w", s.Time, err)
	}
	return t, nil
}

// FacilityID はスロットが属するティーシートIDを返す。
// teesheet_idが無い応答ではschedule_idを使う。
func (s TeeTimeSlot) FacilityID() string {
	if s.TeeSheetID != "" {
		return s.TeeSheetID.String()
	}
	return s.ScheduleID.String()
}

// DecodeTeeTimes はティータイム検索の応答ボディをデコードする。
// 空ボディ、リテラルfalse、非JSON、配列以外はすべて ErrUpstreamMalformed を返す。
// 配列内で解釈できない要素は読み飛ばし、その件数をskippedで返す。
func DecodeTeeTimes(body []byte) (slots []TeeTimeSlot, skipped int, err error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, 0, fmt.Errorf("empty tee time response: %w", ErrUpstreamMalformed)
	}
	if body[0] != '[' {
		return nil, 0, fmt.Errorf("tee time response is not an array: %w", ErrUpstreamMalformed)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, 0, fmt.Errorf("failed to decode tee times: %v: %w", err, ErrUpstreamMalformed)
	}

	slots = make([]TeeTimeSlot, 0, len(elems))
	for _, elem := range elems {
		var slot TeeTimeSlot
		if err := json.Unmarshal(elem, &slot); err != nil {
			skipped++
			continue
		}
		slots = append(slots, slot)
	}
	return slots, skipped, nil
}

// FilterByFacility は指定ティーシートに属するスロットだけを返す。
func FilterByFacility(slots []TeeTimeSlot, facilityID string) []TeeTimeSlot {
	filtered := make([]TeeTimeSlot, 0, len(slots))
	for _, s := range slots {
		if s.FacilityID() == facilityID {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// HourGroup は同じ時間帯（時）のスロットのまとまり。
// 時刻を解釈できないスロットはHour=-1のグループにまとめる。
type HourGroup struct {
	Hour  int
	Slots []TeeTimeSlot
}

// GroupByHour はスロットを開始時刻の「時」でグループ化する。
// グループは時刻順、グループ内は元の順序を保つ。-1のグループは末尾に置く。
func GroupByHour(slots []TeeTimeSlot) []HourGroup {
	byHour := make(map[int][]TeeTimeSlot)
	for _, s := range slots {
		hour := -1
		if t, err := s.StartTime(); err == nil {
			hour = t.Hour()
		}
		byHour[hour] = append(byHour[hour], s)
	}

	hours := make([]int, 0, len(byHour))
	for h := range byHour {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if hours[i] == -1 {
			return false
		}
		if hours[j] == -1 {
			return true
		}
		return hours[i] < hours[j]
	})

	groups := make([]HourGroup, 0, len(hours))
	for _, h := range hours {
		groups = append(groups, HourGroup{Hour: h, Slots: byHour[h]})
	}
	return groups
}
