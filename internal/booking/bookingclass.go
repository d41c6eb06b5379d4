package booking

import (
	"iter"

	"github.com/hitoshi/teebox/internal/catalog"
	"github.com/hitoshi/teebox/internal/model"
)

// BookingClassID はプロフィールの会員権名から予約クラスIDを決定する。
// 一致する会員権が無い場合は公開予約クラスIDを返すため、結果は空にならない。
func BookingClassID(profile *model.Profile, cat *catalog.Catalog) string {
	if profile != nil {
		for _, pass := range profile.Passes {
			if id, ok := cat.BookingClassForPass(pass.Name); ok {
				return id
			}
		}
	}
	return cat.PublicBookingClassID()
}

// bookingClassCandidates は検索で試す予約クラスIDを優先順に返す。
// 利用者のクラスが先、公開クラスが後。同じ値でも重複は除かない。
func bookingClassCandidates(userClassID, publicClassID string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, id := range []string{userClassID, publicClassID} {
			if !yield(id) {
				return
			}
		}
	}
}
