// Package render はクライアントの出力をターミナル向けのテキストに整形する。
// ベンダー由来の文字列はタグを除去してから出力する。
package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hitoshi/teebox/internal/booking"
	"github.com/hitoshi/teebox/internal/model"
	"github.com/hitoshi/teebox/internal/security"
)

// Renderer はテキスト出力を行う。
type Renderer struct {
	w         io.Writer
	sanitizer *security.TextSanitizer
}

// New はRendererを生成する。
func New(w io.Writer) *Renderer {
	return &Renderer{w: w, sanitizer: security.NewTextSanitizer()}
}

func (r *Renderer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
}

func (r *Renderer) clean(s string) string {
	return r.sanitizer.Sanitize(s)
}

// Courses はコースカードを一覧表示する。
func (r *Renderer) Courses(courses []model.Course) error {
	tw := r.table()
	fmt.Fprintln(tw, "FACILITY\tCOURSE\tDETAILS")
	for _, c := range courses {
		name := r.clean(c.Name)
		if c.Par3 {
			name += " (par 3)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.FacilityID, name, r.clean(c.Details))
	}
	return tw.Flush()
}

// Dates は予約可能な日付をカレンダー形式で表示する。todayには印を付ける。
func (r *Renderer) Dates(dates []time.Time, today time.Time) error {
	tw := r.table()
	fmt.Fprintln(tw, "DATE\tDAY\t")
	for _, d := range dates {
		mark := ""
		if d.Year() == today.Year() && d.YearDay() == today.YearDay() {
			mark = "today"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Format(time.DateOnly), d.Format("Mon"), mark)
	}
	return tw.Flush()
}

// TeeTimes は検索結果を時間帯ごとにまとめて表示する。
func (r *Renderer) TeeTimes(result booking.SearchResult) error {
	if result.NoTeeTimes || len(result.Slots) == 0 {
		_, err := fmt.Fprintln(r.w, "No tee times available for this date.")
		return err
	}

	fmt.Fprintf(r.w, "booking class %s\n", result.BookingClassID)
	for _, group := range model.GroupByHour(result.Slots) {
		if group.Hour < 0 {
			fmt.Fprintln(r.w, "\n[other]")
		} else {
			fmt.Fprintf(r.w, "\n[%02d:00]\n", group.Hour)
		}

		tw := r.table()
		fmt.Fprintln(tw, "  TIME\tSPOTS\tGREEN FEE\tCART FEE\tTEETIME ID")
		for _, s := range group.Slots {
			clock := s.Time
			if t, err := s.StartTime(); err == nil {
				clock = t.Format("15:04")
			}
			id := s.TeetimeID.String()
			if id == "" {
				id = "(unavailable)"
			}
			fmt.Fprintf(tw, "  %s\t%d\t%.2f\t%.2f\t%s\n",
				r.clean(clock), s.AvailableSpots, s.GreenFee.Float64(), s.CartFee.Float64(), r.clean(id))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Receipts はローカルに保存した予約控えを表示する。
func (r *Renderer) Receipts(receipts []model.BookingReceipt) error {
	if len(receipts) == 0 {
		_, err := fmt.Fprintln(r.w, "No bookings recorded.")
		return err
	}

	tw := r.table()
	fmt.Fprintln(tw, "TEE TIME\tCOURSE\tPLAYERS\tHOLES\tCART\tRESERVATION\tBOOKED AT")
	for _, rc := range receipts {
		cart := "no"
		if rc.Carts {
			cart = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.clean(rc.TeeTime), r.clean(rc.CourseName), rc.Players, rc.Holes, cart,
			r.clean(rc.ReservationID), rc.BookedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// Summary は利用額の集計を表示する。
func (r *Renderer) Summary(s booking.Summary) error {
	if s.Count == 0 {
		_, err := fmt.Fprintln(r.w, "No spending recorded.")
		return err
	}

	fmt.Fprintf(r.w, "%d transactions", s.Count)
	if !s.FirstSale.IsZero() {
		fmt.Fprintf(r.w, " from %s to %s", s.FirstSale.Format(time.DateOnly), s.LastSale.Format(time.DateOnly))
	}
	fmt.Fprintf(r.w, "\nsubtotal %.2f  tax %.2f  total %.2f\n\n", s.Subtotal, s.Tax, s.Total)

	tw := r.table()
	fmt.Fprintln(tw, "COURSE\tROUNDS\tTOTAL\t")
	for _, c := range s.ByCourse {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\n", r.clean(c.CourseName), c.Count, c.Total, bar(c.Total, s.Total))
	}
	return tw.Flush()
}

// bar は全体に対する割合を20文字幅の棒で表す。
func bar(part, whole float64) string {
	if whole <= 0 || part <= 0 {
		return ""
	}
	n := int(part / whole * 20)
	if n < 1 {
		n = 1
	}
	return strings.Repeat("#", n)
}
