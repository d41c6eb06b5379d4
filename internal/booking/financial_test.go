package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/hitoshi/teebox/internal/model"
	"github.com/hitoshi/teebox/internal/store"
)

// usageProfile は先頭パスに利用履歴を持つプロフィール。
func usageProfile(uses ...map[string]any) map[string]any {
	return map[string]any{
		"jwt": "tok",
		"passes": []map[string]any{
			{"name": "Resident Annual Pass", "uses": uses},
			{"name": "Twilight Pass", "uses": []map[string]any{{"sale_id": "999", "teesheet_id": "2431"}}},
		},
	}
}

func use(saleID, teeSheetID any) map[string]any {
	return map[string]any{"sale_id": saleID, "teesheet_id": teeSheetID}
}

const salesBody = `[{"sale_id":"100","course_id":"19765","sale_time":"2026-09-01 08:00:00","total":"45.00","items":[{"name":"Green Fee","quantity":1,"price":45}]}]`

func TestSaleRefs_DedupSkipAndResolve(t *testing.T) {
	cat := testCatalog(t)
	profile, err := model.DecodeProfile(mustJSON(t, usageProfile(
		use("100", "2431"),
		use(100, 2431), // 重複（数値表現）
		use("101", "2433"),
		use("", "2431"),      // 販売ID欠落
		use("102", nil),      // ティーシート欠落
		use("103", "424242"), // 解決不能
	)))
	if err != nil {
		t.Fatal(err)
	}

	refs := SaleRefs(profile, cat)
	want := []model.SaleRef{{SaleID: "100", CourseID: "19765"}, {SaleID: "101", CourseID: "19766"}}
	if len(refs) != len(want) {
		t.Fatalf("refs = %+v, want %+v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("refs[%d] = %+v, want %+v", i, refs[i], want[i])
		}
	}
}

func TestLoginDataIdentifier_OrderIndependent(t *testing.T) {
	cat := testCatalog(t)
	a := []map[string]any{use("1", "2431"), use("2", "2433"), use("3", "2435"), use("1", "2431")}
	b := []map[string]any{use("3", "2435"), use("1", "2431"), use("2", "2433")}

	pa, _ := model.DecodeProfile(mustJSON(t, usageProfile(a...)))
	pb, _ := model.DecodeProfile(mustJSON(t, usageProfile(b...)))

	idA := LoginDataIdentifier(SaleRefs(pa, cat))
	idB := LoginDataIdentifier(SaleRefs(pb, cat))
	if idA != idB {
		t.Errorf("利用履歴の順序で識別子が変わってはならない: %q != %q", idA, idB)
	}

	// 参照列の順序を入れ替えても同じ
	refs := SaleRefs(pa, cat)
	reversed := []model.SaleRef{refs[2], refs[1], refs[0]}
	if LoginDataIdentifier(reversed) != idA {
		t.Error("SaleRefの順序で識別子が変わってはならない")
	}

	pc, _ := model.DecodeProfile(mustJSON(t, usageProfile(use("4", "2431"))))
	if LoginDataIdentifier(SaleRefs(pc, cat)) == idA {
		t.Error("異なる利用履歴は異なる識別子になること")
	}
}

func TestLoginDataIdentifier_DelimiterAvoidsConcatCollision(t *testing.T) {
	a := LoginDataIdentifier([]model.SaleRef{{SaleID: "1", CourseID: "23"}})
	b := LoginDataIdentifier([]model.SaleRef{{SaleID: "12", CourseID: "3"}})
	if a == b {
		t.Error("区切り文字により単純連結の衝突を避けること")
	}
}

func newFinancialCache(t *testing.T, st store.Store, session *model.Session, api *mockSalesAPI) *FinancialCache {
	return NewFinancialCache(api, st, &mockSessions{session: session}, testCatalog(t), testLogger())
}

func TestDetails_FetchesThenServesFromCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	api := &mockSalesAPI{salesFn: func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
		return []byte(salesBody), nil
	}}
	c := newFinancialCache(t, st, sessionWithProfile(t, usageProfile(use("100", "2431"))), api)

	txs, err := c.Details(ctx, false)
	if err != nil {
		t.Fatalf("Details error: %v", err)
	}
	if len(txs) != 1 || txs[0].Total.Float64() != 45 {
		t.Errorf("txs = %+v", txs)
	}
	if len(api.calls) != 1 || len(api.calls[0]) != 1 || api.calls[0][0].CourseID != "19765" {
		t.Errorf("calls = %+v", api.calls)
	}

	again, err := c.Details(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 1 {
		t.Error("識別子が一致するキャッシュがあれば通信しないこと")
	}
	if len(again) != 1 || again[0].SaleID != "100" {
		t.Errorf("cached = %+v", again)
	}

	if _, err := c.Details(ctx, true); err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 2 {
		t.Error("forceRefreshの場合は再取得すること")
	}
}

func TestDetails_IdentifierMismatchRefetches(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	stale := model.FinancialCacheEntry{
		LoginDataIdentifier: "stale",
		Transactions:        []model.Transaction{{SaleID: "old"}},
	}
	st.Set(ctx, KeyFinancialDetails, string(mustJSON(t, stale)))

	api := &mockSalesAPI{salesFn: func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
		return []byte(salesBody), nil
	}}
	c := newFinancialCache(t, st, sessionWithProfile(t, usageProfile(use("100", "2431"))), api)

	txs, err := c.Details(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 1 {
		t.Fatal("識別子が一致しない場合は再取得すること")
	}
	for _, tx := range txs {
		if tx.SaleID == "old" {
			t.Error("識別子が一致しないキャッシュを返してはならない")
		}
	}

	raw, _, _ := st.Get(ctx, KeyFinancialDetails)
	var entry model.FinancialCacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatal(err)
	}
	want := LoginDataIdentifier([]model.SaleRef{{SaleID: "100", CourseID: "19765"}})
	if entry.LoginDataIdentifier != want {
		t.Errorf("stored identifier = %q, want %q", entry.LoginDataIdentifier, want)
	}
}

func TestDetails_EmptyUsageStoresTaggedEmptyResult(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	api := &mockSalesAPI{salesFn: func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
		t.Fatal("利用履歴が無い場合は通信しないこと")
		return nil, nil
	}}
	c := newFinancialCache(t, st, sessionWithProfile(t, usageProfile()), api)

	txs, err := c.Details(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if txs == nil || len(txs) != 0 {
		t.Errorf("txs = %#v, want empty non-nil", txs)
	}

	raw, ok, _ := st.Get(ctx, KeyFinancialDetails)
	if !ok {
		t.Fatal("空の結果も保存すること")
	}
	var entry model.FinancialCacheEntry
	json.Unmarshal([]byte(raw), &entry)
	if entry.LoginDataIdentifier != LoginDataIdentifier(nil) {
		t.Errorf("identifier = %q", entry.LoginDataIdentifier)
	}
}

func TestDetails_RequiresTokenBeforeFetch(t *testing.T) {
	api := &mockSalesAPI{salesFn: func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
		t.Fatal("トークンが無い場合は通信しないこと")
		return nil, nil
	}}
	session := sessionWithProfile(t, usageProfile(use("100", "2431")))
	session.JWTToken = ""
	c := newFinancialCache(t, store.NewMemoryStore(), session, api)

	if _, err := c.Details(context.Background(), false); !errors.Is(err, model.ErrAuthRequired) {
		t.Errorf("error = %v, want ErrAuthRequired", err)
	}
}

func TestDetails_FetchFailuresDoNotWriteCache(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		wantIs error
	}{
		{name: "transport", err: model.NewTransportError(errors.New("timeout")), wantIs: model.ErrTransport},
		{name: "object response", body: `{"sales":[]}`, wantIs: model.ErrUpstreamMalformed},
		{name: "false", body: `false`, wantIs: model.ErrUpstreamMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := store.NewMemoryStore()
			api := &mockSalesAPI{salesFn: func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
				return []byte(tt.body), tt.err
			}}
			c := newFinancialCache(t, st, sessionWithProfile(t, usageProfile(use("100", "2431"))), api)

			_, err := c.Details(ctx, false)
			if !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want errors.Is %v", err, tt.wantIs)
			}
			if _, ok, _ := st.Get(ctx, KeyFinancialDetails); ok {
				t.Error("失敗時にキャッシュを書き込んではならない")
			}
		})
	}
}

func TestDetails_CorruptCacheIsTreatedAsMiss(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.Set(ctx, KeyFinancialDetails, "{not json")

	api := &mockSalesAPI{salesFn: func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
		return []byte(salesBody), nil
	}}
	c := newFinancialCache(t, st, sessionWithProfile(t, usageProfile(use("100", "2431"))), api)

	txs, err := c.Details(ctx, false)
	if err != nil {
		t.Fatalf("壊れたキャッシュは未ヒット扱いとすること: %v", err)
	}
	if len(txs) != 1 || len(api.calls) != 1 {
		t.Errorf("txs = %d, calls = %d", len(txs), len(api.calls))
	}
}

func TestDetails_StoreReadErrorIsTreatedAsMiss(t *testing.T) {
	st := &failingStore{Store: store.NewMemoryStore(), getErr: errors.New("disk I/O error")}
	api := &mockSalesAPI{salesFn: func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
		return []byte(salesBody), nil
	}}
	c := newFinancialCache(t, st, sessionWithProfile(t, usageProfile(use("100", "2431"))), api)

	if _, err := c.Details(context.Background(), false); err != nil {
		t.Fatalf("読み込み失敗は未ヒット扱いとすること: %v", err)
	}
	if len(api.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(api.calls))
	}
}

func TestDetails_SplitsLargeBatches(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	const total = model.MaxSalesPerRequest + 1
	uses := make([]map[string]any, 0, total)
	for i := range total {
		uses = append(uses, use(strconv.Itoa(1000+i), "2431"))
	}

	api := &mockSalesAPI{salesFn: func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
		out := make([]map[string]any, 0, len(refs))
		for _, r := range refs {
			out = append(out, map[string]any{"sale_id": r.SaleID, "course_id": r.CourseID})
		}
		return mustJSON(t, out), nil
	}}
	c := newFinancialCache(t, st, sessionWithProfile(t, usageProfile(uses...)), api)

	txs, err := c.Details(ctx, false)
	if err != nil {
		t.Fatalf("Details error: %v", err)
	}
	if len(api.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(api.calls))
	}
	if len(api.calls[0]) != model.MaxSalesPerRequest || len(api.calls[1]) != 1 {
		t.Errorf("batch sizes = %d, %d", len(api.calls[0]), len(api.calls[1]))
	}
	if len(txs) != total {
		t.Fatalf("len(txs) = %d, want %d", len(txs), total)
	}
	// 送信順に連結されること
	for i, ref := range append(api.calls[0], api.calls[1]...) {
		if txs[i].SaleID.String() != ref.SaleID {
			t.Errorf("txs[%d].SaleID = %s, want %s", i, txs[i].SaleID, ref.SaleID)
		}
	}
	if _, ok, _ := st.Get(ctx, KeyFinancialDetails); !ok {
		t.Error("分割取得の結果もキャッシュすること")
	}
}

func TestDetails_FailedSecondBatchDoesNotWriteCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	uses := make([]map[string]any, 0, model.MaxSalesPerRequest+1)
	for i := range model.MaxSalesPerRequest + 1 {
		uses = append(uses, use(fmt.Sprintf("%d", 5000+i), "2433"))
	}
	api := &mockSalesAPI{}
	api.salesFn = func(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error) {
		if len(api.calls) == 2 {
			return nil, model.NewTransportError(errors.New("connection reset"))
		}
		return []byte(`[]`), nil
	}
	c := newFinancialCache(t, st, sessionWithProfile(t, usageProfile(uses...)), api)

	if _, err := c.Details(ctx, false); !errors.Is(err, model.ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
	if _, ok, _ := st.Get(ctx, KeyFinancialDetails); ok {
		t.Error("一部の取得に失敗した場合はキャッシュを書き込まないこと")
	}
}
