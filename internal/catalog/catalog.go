// Package catalog はコース一覧と予約クラス対応表の静的テーブルを提供する。
// テーブルは埋め込みYAMLから1回だけ読み込み、以降は変更しない。
package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/teebox/internal/model"
)

//go:embed catalog.yaml
var defaultYAML []byte

// document はcatalog.yamlの構造。
type document struct {
	PublicBookingClassID string         `yaml:"public_booking_class_id"`
	Courses              []model.Course `yaml:"courses"`
	BookingClasses       []struct {
		PassName       string `yaml:"pass_name"`
		BookingClassID string `yaml:"booking_class_id"`
	} `yaml:"booking_classes"`
}

// Catalog は読み取り専用の参照テーブル。
type Catalog struct {
	courses       []model.Course
	byFacility    map[string]model.Course
	classByPass   map[string]string
	publicClassID string
}

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return Load(defaultYAML)
})

// Default は埋め込みのテーブルを返す。
func Default() (*Catalog, error) {
	return loadDefault()
}

// Load はYAMLからCatalogを構築する。
// コースが0件、ID欠落、ティーシートIDの重複、公開予約クラスID未設定はエラーとする。
func Load(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if strings.TrimSpace(doc.PublicBookingClassID) == "" {
		return nil, fmt.Errorf("catalog: public_booking_class_id is required")
	}
	if len(doc.Courses) == 0 {
		return nil, fmt.Errorf("catalog: no courses defined")
	}

	c := &Catalog{
		courses:       make([]model.Course, 0, len(doc.Courses)),
		byFacility:    make(map[string]model.Course, len(doc.Courses)),
		classByPass:   make(map[string]string, len(doc.BookingClasses)),
		publicClassID: strings.TrimSpace(doc.PublicBookingClassID),
	}

	for i, course := range doc.Courses {
		if course.Name == "" || course.CourseID == "" || course.FacilityID == "" {
			return nil, fmt.Errorf("catalog: course #%d is missing name, course_id or facility_id", i+1)
		}
		if _, dup := c.byFacility[course.FacilityID]; dup {
			return nil, fmt.Errorf("catalog: duplicate facility_id %s", course.FacilityID)
		}
		c.courses = append(c.courses, course)
		c.byFacility[course.FacilityID] = course
	}

	for _, bc := range doc.BookingClasses {
		key := normalizePassName(bc.PassName)
		if key == "" || bc.BookingClassID == "" {
			return nil, fmt.Errorf("catalog: booking class entry needs pass_name and booking_class_id")
		}
		c.classByPass[key] = bc.BookingClassID
	}

	return c, nil
}

// Courses はコース一覧のコピーを定義順で返す。
func (c *Catalog) Courses() []model.Course {
	out := make([]model.Course, len(c.courses))
	copy(out, c.courses)
	return out
}

// CourseByFacility はティーシートIDからコースを引く。
func (c *Catalog) CourseByFacility(facilityID string) (model.Course, bool) {
	course, ok := c.byFacility[strings.TrimSpace(facilityID)]
	return course, ok
}

// CourseIDForTeeSheet はティーシートIDをコースグループIDに解決する。
func (c *Catalog) CourseIDForTeeSheet(teeSheetID string) (string, bool) {
	course, ok := c.CourseByFacility(teeSheetID)
	if !ok {
		return "", false
	}
	return course.CourseID, true
}

// CourseGroupName はコースグループIDに属するコース名を定義順に " / " で連結して返す。
// 未知のIDはそのまま返す。
func (c *Catalog) CourseGroupName(courseID string) string {
	var names []string
	for _, course := range c.courses {
		if course.CourseID == courseID {
			names = append(names, course.Name)
		}
	}
	if len(names) == 0 {
		return courseID
	}
	return strings.Join(names, " / ")
}

// IsPar3 はティーシートがパー3専用コースかを返す。
func (c *Catalog) IsPar3(facilityID string) bool {
	course, ok := c.CourseByFacility(facilityID)
	return ok && course.Par3
}

// PublicBookingClassID は一般向け予約クラスIDを返す。
func (c *Catalog) PublicBookingClassID() string {
	return c.publicClassID
}

// BookingClassForPass は会員権名に対応する予約クラスIDを返す。
// 大文字小文字と前後の空白は無視する。
func (c *Catalog) BookingClassForPass(passName string) (string, bool) {
	id, ok := c.classByPass[normalizePassName(passName)]
	return id, ok
}

func normalizePassName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
