package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/teebox/internal/catalog"
	"github.com/hitoshi/teebox/internal/model"
)

// State は予約フローの状態。
type State int

const (
	StateBrowsing State = iota
	StateDateSelected
	StateSlotSelected
	StatePendingReservationCreated
	StateConfirmed
	StateError
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateBrowsing:
		return "browsing"
	case StateDateSelected:
		return "date_selected"
	case StateSlotSelected:
		return "slot_selected"
	case StatePendingReservationCreated:
		return "pending_reservation_created"
	case StateConfirmed:
		return "confirmed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// 状態遷移が拒否された場合のエラー。いずれも状態は変わらない。
var (
	ErrSlotMissingID     = errors.New("tee time slot has no teetime id")
	ErrDateOutOfWindow   = errors.New("date is outside the booking window")
	ErrInvalidTransition = errors.New("operation not allowed in the current state")
	ErrNoCourseSelected  = errors.New("no course selected")
	ErrNoPendingHold     = errors.New("no pending reservation to confirm")
)

// ReservationAPI は仮予約の作成と確定に必要なプロキシAPI。
type ReservationAPI interface {
	PendingReservation(ctx context.Context, creds Credentials, form url.Values) ([]byte, error)
	CompleteReservation(ctx context.Context, creds Credentials, pendingReservationID, courseID string) ([]byte, error)
}

// Searcher はティータイム検索のインターフェース。
type Searcher interface {
	Search(ctx context.Context, date time.Time, facilityID, courseID string) (SearchResult, error)
}

// ReservationOptions は仮予約時に指定する人数・ホール数・カート利用。
type ReservationOptions struct {
	Players int `validate:"min=1,max=4"`
	Holes   int `validate:"oneof=9 18"`
	Carts   bool
}

var optionsValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate は予約オプションを検証する。
func (o ReservationOptions) Validate() error {
	err := optionsValidator.Struct(o)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Field() {
		case "Players":
			msgs = append(msgs, "players must be between 1 and 4")
		case "Holes":
			msgs = append(msgs, "holes must be 9 or 18")
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field())))
		}
	}
	return model.NewValidationError(strings.Join(msgs, "; "))
}

// Flow は 閲覧 → 日付選択 → 枠選択 → 仮予約 → 確定 の予約フローを管理する。
// 並行呼び出しには対応しない。
type Flow struct {
	api        ReservationAPI
	searcher   Searcher
	sessions   SessionSource
	receipts   *ReceiptBook
	pendings   *PendingBook
	catalog    *catalog.Catalog
	logger     *slog.Logger
	windowDays int
	now        func() time.Time
	newID      func() string

	state          State
	course         *model.Course
	date           time.Time
	slot           *model.TeeTimeSlot
	bookingClassID string
	options        ReservationOptions
	pending        *model.PendingReservation
	receipt        *model.BookingReceipt
	lastError      string
}

// NewFlow はFlowを生成する。windowDaysは今日を含む予約可能日数。
func NewFlow(api ReservationAPI, searcher Searcher, sessions SessionSource, receipts *ReceiptBook, pendings *PendingBook, cat *catalog.Catalog, logger *slog.Logger, windowDays int) *Flow {
	if windowDays < 1 {
		windowDays = 9
	}
	return &Flow{
		api:        api,
		searcher:   searcher,
		sessions:   sessions,
		receipts:   receipts,
		pendings:   pendings,
		catalog:    cat,
		logger:     logger,
		windowDays: windowDays,
		now:        time.Now,
		newID:      uuid.NewString,
		state:      StateBrowsing,
	}
}

// State は現在の状態を返す。
func (f *Flow) State() State { return f.state }

// LastError は直近の失敗メッセージを返す。
func (f *Flow) LastError() string { return f.lastError }

// Date は選択中の日付を返す。
func (f *Flow) Date() time.Time { return f.date }

// Slot は選択中の枠を返す。未選択の場合はnil。
func (f *Flow) Slot() *model.TeeTimeSlot { return f.slot }

// PendingReservationID は保持している仮予約IDを返す。
func (f *Flow) PendingReservationID() string {
	if f.pending == nil {
		return ""
	}
	return f.pending.ID
}

// Receipt は確定時に記録した控えを返す。
func (f *Flow) Receipt() *model.BookingReceipt { return f.receipt }

// SelectCourse はコースを選択し、日付と枠の選択を解除して閲覧状態に戻す。
// 仮予約の確定待ち中は変更できない。
func (f *Flow) SelectCourse(course model.Course) error {
	if f.state == StatePendingReservationCreated {
		return ErrInvalidTransition
	}
	f.clearSelection()
	f.course = &course
	f.state = StateBrowsing
	return nil
}

// AvailableDates は今日から始まる予約可能な日付を返す。
func (f *Flow) AvailableDates() []time.Time {
	today := f.today()
	dates := make([]time.Time, 0, f.windowDays)
	for i := 0; i < f.windowDays; i++ {
		dates = append(dates, today.AddDate(0, 0, i))
	}
	return dates
}

// SelectDate は予約日を選択する。過去の日付と予約可能期間外の日付は拒否する。
func (f *Flow) SelectDate(date time.Time) error {
	switch f.state {
	case StateBrowsing, StateDateSelected, StateSlotSelected:
	default:
		return ErrInvalidTransition
	}
	if f.course == nil {
		return ErrNoCourseSelected
	}

	today := f.today()
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, today.Location())
	if day.Before(today) || !day.Before(today.AddDate(0, 0, f.windowDays)) {
		return fmt.Errorf("%s: %w", day.Format(time.DateOnly), ErrDateOutOfWindow)
	}

	f.clearSelection()
	f.date = day
	f.state = StateDateSelected
	return nil
}

// SearchTeeTimes は選択中のコースと日付でティータイムを検索する。状態は変わらない。
// 検索自体が失敗した場合はエラー状態に移る。
func (f *Flow) SearchTeeTimes(ctx context.Context) (SearchResult, error) {
	if f.state != StateDateSelected && f.state != StateSlotSelected {
		return SearchResult{}, ErrInvalidTransition
	}

	result, err := f.searcher.Search(ctx, f.date, f.course.FacilityID, f.course.CourseID)
	if err != nil {
		f.fail("tee time search failed", err)
		return SearchResult{}, err
	}
	f.bookingClassID = result.BookingClassID
	return result, nil
}

// SelectSlot は予約する枠を選択する。teetime_idの無い枠は拒否し、状態を変えない。
func (f *Flow) SelectSlot(slot model.TeeTimeSlot) error {
	if f.state != StateDateSelected && f.state != StateSlotSelected {
		return ErrInvalidTransition
	}
	if slot.TeetimeID == "" {
		return ErrSlotMissingID
	}

	f.slot = &slot
	f.pending = nil
	f.lastError = ""
	f.state = StateSlotSelected
	return nil
}

// CreatePendingReservation は選択中の枠で仮予約を作成する。
// パー3専用コースでは指定に関わらず9ホールで予約する。
func (f *Flow) CreatePendingReservation(ctx context.Context, opts ReservationOptions) error {
	if f.state != StateSlotSelected {
		return ErrInvalidTransition
	}
	if f.catalog.IsPar3(f.facilityID()) {
		opts.Holes = 9
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	session, err := f.sessions.Current(ctx)
	if err != nil {
		return err
	}

	bookingClassID := f.bookingClassID
	if bookingClassID == "" {
		bookingClassID = BookingClassID(profileOf(session), f.catalog)
	}

	form := url.Values{}
	form.Set("course_id", f.course.CourseID)
	form.Set("teesheet_id", f.facilityID())
	form.Set("teetime_id", f.slot.TeetimeID.String())
	form.Set("player_count", strconv.Itoa(opts.Players))
	form.Set("holes", strconv.Itoa(opts.Holes))
	form.Set("carts", strconv.FormatBool(opts.Carts))
	form.Set("booking_class", bookingClassID)

	body, err := f.api.PendingReservation(ctx, credentialsOf(session), form)
	if err == nil {
		f.pending, err = model.DecodePendingReservation(body)
	}
	if err != nil {
		f.fail("could not create a pending reservation", err)
		return err
	}

	f.options = opts
	f.lastError = ""
	f.state = StatePendingReservationCreated
	f.saveHold(ctx)
	f.logger.Info("仮予約を作成しました",
		slog.String("pending_reservation_id", f.pending.ID),
		slog.String("teetime_id", f.slot.TeetimeID.String()),
	)
	return nil
}

// Confirm は仮予約を確定し、控えを記録する。
// 失敗した場合は仮予約IDを保持したまま枠選択済みの状態に戻り、再度Confirmできる。
func (f *Flow) Confirm(ctx context.Context) (*model.BookingReceipt, error) {
	canRetry := f.state == StateSlotSelected && f.pending != nil
	if f.state != StatePendingReservationCreated && !canRetry {
		return nil, ErrInvalidTransition
	}

	session, err := f.sessions.Current(ctx)
	if err != nil {
		return nil, err
	}

	var confirmation *model.Confirmation
	body, err := f.api.CompleteReservation(ctx, credentialsOf(session), f.pending.ID, f.course.CourseID)
	if err == nil {
		confirmation, err = model.DecodeConfirmation(body)
	}
	if err != nil {
		f.lastError = describe("could not confirm the reservation", err)
		f.state = StateSlotSelected
		f.logger.Warn("予約の確定に失敗しました",
			slog.String("pending_reservation_id", f.pending.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	receipt := model.BookingReceipt{
		ID:            f.newID(),
		ReservationID: confirmation.ReservationID,
		CourseID:      f.course.CourseID,
		CourseName:    f.courseName(),
		TeeTime:       f.slot.Time,
		Players:       f.options.Players,
		Holes:         f.options.Holes,
		Carts:         f.options.Carts,
		BookedAt:      f.now().UTC(),
	}
	if err := f.receipts.Add(ctx, receipt); err != nil {
		f.logger.Warn("予約の控えを保存できませんでした", slog.String("error", err.Error()))
	}
	if err := f.pendings.Clear(ctx); err != nil {
		f.logger.Warn("仮予約の記録を削除できませんでした", slog.String("error", err.Error()))
	}

	f.receipt = &receipt
	f.lastError = ""
	f.state = StateConfirmed
	f.logger.Info("予約を確定しました",
		slog.String("receipt_id", receipt.ID),
		slog.String("reservation_id", receipt.ReservationID),
	)
	return &receipt, nil
}

// Resume は保存済みの仮予約を読み込み、確定をやり直せる枠選択済みの状態にする。
// 閲覧状態からのみ呼び出せる。仮予約が保存されていない場合はErrNoPendingHoldを返す。
func (f *Flow) Resume(ctx context.Context) (*model.PendingHold, error) {
	if f.state != StateBrowsing {
		return nil, ErrInvalidTransition
	}
	hold, err := f.pendings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, ErrNoPendingHold
	}

	course, ok := f.catalog.CourseByFacility(hold.FacilityID)
	if !ok {
		course = model.Course{Name: hold.CourseName, CourseID: hold.CourseID, FacilityID: hold.FacilityID}
	}
	course.CourseID = hold.CourseID

	f.clearSelection()
	f.course = &course
	f.slot = &model.TeeTimeSlot{
		Time:       hold.TeeTime,
		TeeSheetID: model.FlexString(hold.FacilityID),
		TeetimeID:  model.FlexString(hold.TeetimeID),
		CourseName: hold.CourseName,
	}
	f.options = ReservationOptions{Players: hold.Players, Holes: hold.Holes, Carts: hold.Carts}
	f.pending = &model.PendingReservation{ID: hold.PendingReservationID}
	f.state = StateSlotSelected
	return hold, nil
}

// Recover はエラー状態から枠選択済み（枠が無ければ日付選択済み）の状態に戻る。
func (f *Flow) Recover() error {
	if f.state != StateError {
		return ErrInvalidTransition
	}
	if f.slot != nil {
		f.state = StateSlotSelected
	} else {
		f.state = StateDateSelected
	}
	return nil
}

// Reset はすべての選択を破棄して閲覧状態に戻る。
func (f *Flow) Reset() {
	f.clearSelection()
	f.course = nil
	f.receipt = nil
	f.state = StateBrowsing
}

// saveHold は確定前の仮予約を記録する。保存に失敗しても予約処理は続ける。
func (f *Flow) saveHold(ctx context.Context) {
	hold := model.PendingHold{
		PendingReservationID: f.pending.ID,
		CourseID:             f.course.CourseID,
		FacilityID:           f.facilityID(),
		TeetimeID:            f.slot.TeetimeID.String(),
		TeeTime:              f.slot.Time,
		CourseName:           f.courseName(),
		Players:              f.options.Players,
		Holes:                f.options.Holes,
		Carts:                f.options.Carts,
		CreatedAt:            f.now().UTC(),
	}
	if err := f.pendings.Save(ctx, hold); err != nil {
		f.logger.Warn("仮予約を記録できませんでした", slog.String("error", err.Error()))
	}
}

func (f *Flow) fail(action string, err error) {
	f.lastError = describe(action, err)
	f.state = StateError
	f.logger.Warn("予約フローでエラーが発生しました",
		slog.String("state", f.state.String()),
		slog.String("error", err.Error()),
	)
}

func (f *Flow) clearSelection() {
	f.date = time.Time{}
	f.slot = nil
	f.pending = nil
	f.bookingClassID = ""
	f.options = ReservationOptions{}
	f.lastError = ""
}

func (f *Flow) today() time.Time {
	now := f.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// facilityID は枠のティーシートIDを返す。枠に無ければコースの値を使う。
func (f *Flow) facilityID() string {
	if f.slot != nil && f.slot.FacilityID() != "" {
		return f.slot.FacilityID()
	}
	return f.course.FacilityID
}

func (f *Flow) courseName() string {
	if f.slot != nil && f.slot.CourseName != "" {
		return f.slot.CourseName
	}
	return f.course.Name
}

// describe は利用者向けのメッセージを組み立てる。
func describe(action string, err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return action + ": " + apiErr.Message
	}
	return action + ": " + err.Error()
}
