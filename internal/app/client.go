package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hitoshi/teebox/internal/booking"
	"github.com/hitoshi/teebox/internal/catalog"
	"github.com/hitoshi/teebox/internal/config"
	"github.com/hitoshi/teebox/internal/model"
	"github.com/hitoshi/teebox/internal/render"
	"github.com/hitoshi/teebox/internal/store"
)

// clientEnv はクライアントコマンドが使う依存関係をまとめたもの。
type clientEnv struct {
	store     store.Store
	catalog   *catalog.Catalog
	api       *booking.APIClient
	sessions  *booking.SessionManager
	financial *booking.FinancialCache
	receipts  *booking.ReceiptBook
	flow      *booking.Flow
	render    *render.Renderer
	stdout    io.Writer
	stderr    io.Writer
}

// newClientEnv はストアを開き、プロキシクライアントと予約フローをワイヤリングする。
func newClientEnv(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (*clientEnv, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load course catalog: %w", err)
	}

	st, err := store.Open(ctx, cfg.StoreURL, cfg.StoreNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	log := slog.Default()
	api := booking.NewAPIClient(&http.Client{Timeout: cfg.ClientTimeout}, log, cfg.ProxyURL)
	sessions := booking.NewSessionManager(api, st, log)
	receipts := booking.NewReceiptBook(st)
	pendings := booking.NewPendingBook(st)
	searcher := booking.NewTeeTimeSearcher(api, sessions, cat, log)

	return &clientEnv{
		store:     st,
		catalog:   cat,
		api:       api,
		sessions:  sessions,
		financial: booking.NewFinancialCache(api, st, sessions, cat, log),
		receipts:  receipts,
		flow:      booking.NewFlow(api, searcher, sessions, receipts, pendings, cat, log, cfg.BookingWindowDays),
		render:    render.New(stdout),
		stdout:    stdout,
		stderr:    stderr,
	}, nil
}

func (e *clientEnv) Close() error {
	return e.store.Close()
}

// runClient はクライアントコマンドを実行する。
func runClient(ctx context.Context, cfg *config.Config, cmd Command, args []string, stdout, stderr io.Writer) error {
	env, err := newClientEnv(ctx, cfg, stdout, stderr)
	if err != nil {
		return err
	}
	defer env.Close()

	err = env.dispatch(ctx, cmd, args)
	if isFlagHelp(err) {
		return nil
	}
	return err
}

func (e *clientEnv) dispatch(ctx context.Context, cmd Command, args []string) error {
	switch cmd {
	case CommandLogin:
		return e.login(ctx, args)
	case CommandLogout:
		return e.logout(ctx)
	case CommandCourses:
		return e.courses(ctx)
	case CommandDates:
		return e.dates()
	case CommandTeeTimes:
		return e.teeTimes(ctx, args)
	case CommandBook:
		return e.book(ctx, args)
	case CommandConfirm:
		return e.confirm(ctx)
	case CommandBookings:
		return e.bookings(ctx)
	case CommandSpending:
		return e.spending(ctx, args)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

// newFlagSet はエラー時に使い方をstderrへ出すFlagSetを生成する。
func (e *clientEnv) newFlagSet(cmd Command) *flag.FlagSet {
	fs := flag.NewFlagSet(string(cmd), flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func (e *clientEnv) login(ctx context.Context, args []string) error {
	fs := e.newFlagSet(CommandLogin)
	username := fs.String("username", "", "account user name")
	password := fs.String("password", "", "account password (or TEEBOX_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		*password = os.Getenv("TEEBOX_PASSWORD")
	}

	session, err := e.sessions.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Logged in as %s\n", session.UserName)
	return nil
}

func (e *clientEnv) logout(ctx context.Context) error {
	if err := e.sessions.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, "Logged out.")
	return nil
}

// courses はプロキシからコース一覧を取得して表示する。ログイン済みなら利用者名も表示する。
func (e *clientEnv) courses(ctx context.Context) error {
	var creds *booking.Credentials
	session, err := e.sessions.Current(ctx)
	switch {
	case err == nil:
		creds = &booking.Credentials{Token: session.JWTToken, Cookies: session.VendorCookies}
	case !errors.Is(err, model.ErrAuthRequired):
		return err
	}

	result, err := e.api.Courses(ctx, creds)
	if err != nil {
		return err
	}
	if len(result.User) > 0 {
		if profile, err := model.DecodeProfile(result.User); err == nil && profile.DisplayName() != "" {
			fmt.Fprintf(e.stdout, "Welcome, %s\n\n", profile.DisplayName())
		}
	}
	return e.render.Courses(result.Courses)
}

func (e *clientEnv) dates() error {
	dates := e.flow.AvailableDates()
	return e.render.Dates(dates, dates[0])
}

// selection はティータイム検索と予約で共通のフラグ。
type selection struct {
	facility string
	date     string
}

func (s *selection) register(fs *flag.FlagSet) {
	fs.StringVar(&s.facility, "facility", "", "tee sheet (facility) id")
	fs.StringVar(&s.date, "date", "", "date to search, YYYY-MM-DD (default today)")
}

// apply はフラグで指定されたコースと日付をフローに設定する。
func (s *selection) apply(e *clientEnv) error {
	course, ok := e.catalog.CourseByFacility(s.facility)
	if !ok {
		return model.NewValidationError(fmt.Sprintf("unknown facility %q, see 'teebox courses'", s.facility))
	}

	date := e.flow.AvailableDates()[0]
	if s.date != "" {
		d, err := time.ParseInLocation(time.DateOnly, s.date, time.Local)
		if err != nil {
			return model.NewValidationError(fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s.date))
		}
		date = d
	}

	if err := e.flow.SelectCourse(course); err != nil {
		return err
	}
	return e.flow.SelectDate(date)
}

func (e *clientEnv) teeTimes(ctx context.Context, args []string) error {
	fs := e.newFlagSet(CommandTeeTimes)
	var sel selection
	sel.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := sel.apply(e); err != nil {
		return err
	}

	result, err := e.flow.SearchTeeTimes(ctx)
	if err != nil {
		return err
	}
	return e.render.TeeTimes(result)
}

// book は検索・枠選択・仮予約・確定を続けて行う。
func (e *clientEnv) book(ctx context.Context, args []string) error {
	fs := e.newFlagSet(CommandBook)
	var sel selection
	sel.register(fs)
	teetimeID := fs.String("teetime", "", "teetime id from 'teebox teetimes'")
	players := fs.Int("players", 1, "number of players (1-4)")
	holes := fs.Int("holes", 18, "holes to play (9 or 18)")
	carts := fs.Bool("carts", false, "reserve carts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *teetimeID == "" {
		return model.NewValidationError("-teetime is required")
	}
	if err := sel.apply(e); err != nil {
		return err
	}

	result, err := e.flow.SearchTeeTimes(ctx)
	if err != nil {
		return err
	}

	var chosen *model.TeeTimeSlot
	for i := range result.Slots {
		if result.Slots[i].TeetimeID.String() == *teetimeID {
			chosen = &result.Slots[i]
			break
		}
	}
	if chosen == nil {
		return model.NewValidationError(fmt.Sprintf("tee time %s is not available on %s", *teetimeID, e.flow.Date().Format(time.DateOnly)))
	}
	if err := e.flow.SelectSlot(*chosen); err != nil {
		return err
	}

	opts := booking.ReservationOptions{Players: *players, Holes: *holes, Carts: *carts}
	if err := e.flow.CreatePendingReservation(ctx, opts); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Pending reservation %s created\n", e.flow.PendingReservationID())

	return e.confirmPending(ctx)
}

// confirm は前回の book で確定できなかった仮予約の確定をやり直す。
func (e *clientEnv) confirm(ctx context.Context) error {
	hold, err := e.flow.Resume(ctx)
	if errors.Is(err, booking.ErrNoPendingHold) {
		return model.NewValidationError("no pending reservation to confirm, run 'teebox book' first")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Confirming pending reservation %s (%s at %s)\n",
		hold.PendingReservationID, hold.CourseName, hold.TeeTime)
	return e.confirmPending(ctx)
}

// confirmPending は保持中の仮予約を確定し、結果を表示する。
// 失敗した場合、仮予約はストアに残り confirm で再試行できる。
func (e *clientEnv) confirmPending(ctx context.Context) error {
	receipt, err := e.flow.Confirm(ctx)
	if err != nil && e.flow.LastError() == "" {
		return err
	}
	if err != nil {
		return fmt.Errorf("%s (retry with 'teebox confirm'): %w", e.flow.LastError(), err)
	}
	fmt.Fprintf(e.stdout, "Booked %s at %s for %d players (%d holes)\n",
		receipt.CourseName, receipt.TeeTime, receipt.Players, receipt.Holes)
	if receipt.ReservationID != "" {
		fmt.Fprintf(e.stdout, "Reservation %s\n", receipt.ReservationID)
	}
	return nil
}

func (e *clientEnv) bookings(ctx context.Context) error {
	receipts, err := e.receipts.List(ctx)
	if err != nil {
		return err
	}
	return e.render.Receipts(receipts)
}

// spending は利用明細を集計して表示する。-csvを指定した場合は明細をCSVで書き出す。
func (e *clientEnv) spending(ctx context.Context, args []string) error {
	fs := e.newFlagSet(CommandSpending)
	refresh := fs.Bool("refresh", false, "ignore the cached details")
	csvPath := fs.String("csv", "", "write the line items as CSV to this file ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	txs, err := e.financial.Details(ctx, *refresh)
	if err != nil {
		return err
	}

	switch *csvPath {
	case "":
		return e.render.Summary(booking.Summarize(txs, e.catalog))
	case "-":
		return booking.WriteCSV(e.stdout, txs, e.catalog)
	default:
		f, err := os.Create(*csvPath)
		if err != nil {
			return fmt.Errorf("failed to create CSV file: %w", err)
		}
		if err := booking.WriteCSV(f, txs, e.catalog); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write CSV file: %w", err)
		}
		fmt.Fprintf(e.stdout, "Wrote %d transactions to %s\n", len(txs), *csvPath)
		return nil
	}
}

// isFlagHelp は-hによるヘルプ表示かを返す。
func isFlagHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}
