package booking

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/teebox/internal/catalog"
	"github.com/hitoshi/teebox/internal/model"
	"github.com/hitoshi/teebox/internal/security"
)

// saleTimeLayouts はベンダーの販売日時として受け付ける書式。
var saleTimeLayouts = []string{
	time.DateTime,
	time.RFC3339,
	time.DateOnly,
}

// CourseSpend はコースグループごとの利用額。
type CourseSpend struct {
	CourseID   string
	CourseName string
	Total      float64
	Count      int
}

// Summary は販売明細の集計結果。
type Summary struct {
	Count     int
	Subtotal  float64
	Tax       float64
	Total     float64
	ByCourse  []CourseSpend
	FirstSale time.Time
	LastSale  time.Time
}

// Summarize は販売明細を集計する。ByCourseは利用額の降順、同額はコースID順に並べる。
// 日時を解釈できない販売は期間の計算から除外する。
func Summarize(txs []model.Transaction, cat *catalog.Catalog) Summary {
	var s Summary
	byCourse := make(map[string]*CourseSpend)

	for _, tx := range txs {
		s.Count++
		s.Subtotal += tx.Subtotal.Float64()
		s.Tax += tx.Tax.Float64()
		s.Total += tx.Total.Float64()

		courseID := tx.CourseID.String()
		spend, ok := byCourse[courseID]
		if !ok {
			spend = &CourseSpend{CourseID: courseID, CourseName: cat.CourseGroupName(courseID)}
			byCourse[courseID] = spend
		}
		spend.Total += tx.Total.Float64()
		spend.Count++

		if t, ok := parseSaleTime(tx.SaleTime); ok {
			if s.FirstSale.IsZero() || t.Before(s.FirstSale) {
				s.FirstSale = t
			}
			if t.After(s.LastSale) {
				s.LastSale = t
			}
		}
	}

	s.ByCourse = make([]CourseSpend, 0, len(byCourse))
	for _, spend := range byCourse {
		s.ByCourse = append(s.ByCourse, *spend)
	}
	sort.Slice(s.ByCourse, func(i, j int) bool {
		if s.ByCourse[i].Total != s.ByCourse[j].Total {
			return s.ByCourse[i].Total > s.ByCourse[j].Total
		}
		return s.ByCourse[i].CourseID < s.ByCourse[j].CourseID
	})
	return s
}

func parseSaleTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range saleTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// csvHeader はCSV出力のヘッダー行。
var csvHeader = []string{"sale_id", "date", "course", "item", "quantity", "price", "sale_total"}

// WriteCSV は販売明細を明細行単位でCSVに書き出す。明細行の無い販売は1行にまとめる。
// ベンダー由来の文字列はタグを除去してから書き出す。
func WriteCSV(w io.Writer, txs []model.Transaction, cat *catalog.Catalog) error {
	sanitizer := security.NewTextSanitizer()
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, tx := range txs {
		base := []string{
			csvText(sanitizer.Sanitize(tx.SaleID.String())),
			csvText(sanitizer.Sanitize(tx.SaleTime)),
			csvText(cat.CourseGroupName(tx.CourseID.String())),
		}
		total := formatAmount(tx.Total.Float64())

		if len(tx.Items) == 0 {
			if err := cw.Write(append(base, "", "", "", total)); err != nil {
				return fmt.Errorf("failed to write csv row: %w", err)
			}
			continue
		}
		for _, item := range tx.Items {
			row := append(append([]string{}, base...),
				csvText(sanitizer.Sanitize(item.Name)),
				strconv.FormatFloat(item.Quantity.Float64(), 'f', -1, 64),
				formatAmount(item.Price.Float64()),
				total,
			)
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write csv row: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// csvText は表計算ソフトで数式として解釈される先頭文字を無害化する。
func csvText(s string) string {
	if s != "" && strings.ContainsRune("=+-@", rune(s[0])) {
		return "'" + s
	}
	return s
}
