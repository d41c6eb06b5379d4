package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/teebox/internal/catalog"
	"github.com/hitoshi/teebox/internal/model"
)

// TeeTimeAPI はティータイム検索に必要なプロキシAPI。
type TeeTimeAPI interface {
	TeeTimes(ctx context.Context, creds Credentials, q TeeTimeQuery) ([]byte, error)
}

// SearchResult はティータイム検索の結果。
// NoTeeTimesがtrueの場合は全候補で空だったことを示し、エラーではない。
type SearchResult struct {
	Slots          []model.TeeTimeSlot
	BookingClassID string
	NoTeeTimes     bool
}

// TeeTimeSearcher は予約クラスを順に切り替えながらティータイムを検索する。
type TeeTimeSearcher struct {
	api      TeeTimeAPI
	sessions SessionSource
	catalog  *catalog.Catalog
	logger   *slog.Logger
}

// NewTeeTimeSearcher はTeeTimeSearcherを生成する。
func NewTeeTimeSearcher(api TeeTimeAPI, sessions SessionSource, cat *catalog.Catalog, logger *slog.Logger) *TeeTimeSearcher {
	return &TeeTimeSearcher{api: api, sessions: sessions, catalog: cat, logger: logger}
}

// Search は指定日・ティーシートの予約可能枠を返す。
// ベンダーは権限の無い予約クラスに対してエラーではなく空やfalseを返すため、
// 利用者のクラスで見つからなければ公開クラスで再検索する。候補は1件ずつ順に試す。
func (s *TeeTimeSearcher) Search(ctx context.Context, date time.Time, facilityID, courseID string) (SearchResult, error) {
	session, err := s.sessions.Current(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	creds := credentialsOf(session)
	userClassID := BookingClassID(profileOf(session), s.catalog)

	for classID := range bookingClassCandidates(userClassID, s.catalog.PublicBookingClassID()) {
		if err := ctx.Err(); err != nil {
			return SearchResult{}, err
		}

		slots, err := s.searchOnce(ctx, creds, TeeTimeQuery{
			Date:           date,
			FacilityID:     facilityID,
			CourseID:       courseID,
			BookingClassID: classID,
		})
		if err != nil {
			s.logger.Warn("ティータイム検索に失敗したため次の予約クラスを試します",
				slog.String("booking_class", classID),
				slog.String("facility_id", facilityID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(slots) == 0 {
			s.logger.Debug("予約可能枠がありません",
				slog.String("booking_class", classID),
				slog.String("facility_id", facilityID),
			)
			continue
		}

		return SearchResult{Slots: slots, BookingClassID: classID}, nil
	}

	return SearchResult{NoTeeTimes: true}, nil
}

// searchOnce は1つの予約クラスで検索し、ティーシートで絞り込んだ結果を返す。
func (s *TeeTimeSearcher) searchOnce(ctx context.Context, creds Credentials, q TeeTimeQuery) ([]model.TeeTimeSlot, error) {
	body, err := s.api.TeeTimes(ctx, creds, q)
	if err != nil {
		return nil, err
	}

	slots, skipped, err := model.DecodeTeeTimes(body)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Warn("解釈できないティータイムを読み飛ばしました",
			slog.String("booking_class", q.BookingClassID),
			slog.Int("skipped", skipped),
		)
	}
	return model.FilterByFacility(slots, q.FacilityID), nil
}
