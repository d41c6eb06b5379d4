package model

// Course は予約対象のコースを表す。
// 静的テーブルから読み込まれ、プロセス実行中は変更されない。
type Course struct {
	Name       string `json:"name" yaml:"name"`
	CourseID   string `json:"courseId" yaml:"course_id"`     // ベンダー側のコースグループID
	FacilityID string `json:"facilityId" yaml:"facility_id"` // ティーシートID
	Details    string `json:"details" yaml:"details"`
	Par3       bool   `json:"par3" yaml:"par3"` // パー3専用コースは常に9ホールで予約する
}
