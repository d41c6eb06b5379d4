package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/hitoshi/teebox/internal/catalog"
	"github.com/hitoshi/teebox/internal/model"
	"github.com/hitoshi/teebox/internal/store"
)

// SalesAPI は販売明細の一括取得に必要なプロキシAPI。
type SalesAPI interface {
	Sales(ctx context.Context, creds Credentials, refs []model.SaleRef) ([]byte, error)
}

// FinancialCache は販売明細をストアにキャッシュする。
// キャッシュはプロフィールの利用履歴から計算した識別子が一致する場合のみ使用する。
type FinancialCache struct {
	api      SalesAPI
	store    store.Store
	sessions SessionSource
	catalog  *catalog.Catalog
	logger   *slog.Logger
}

// NewFinancialCache はFinancialCacheを生成する。
func NewFinancialCache(api SalesAPI, st store.Store, sessions SessionSource, cat *catalog.Catalog, logger *slog.Logger) *FinancialCache {
	return &FinancialCache{api: api, store: st, sessions: sessions, catalog: cat, logger: logger}
}

// SaleRefs はプロフィールの先頭パスの利用履歴から (販売ID, コースID) の組を重複なく取り出す。
// 販売IDかティーシートIDが欠けている履歴と、コースに解決できない履歴は除外する。
// 結果は重複排除キーの昇順に並べる。
func SaleRefs(profile *model.Profile, cat *catalog.Catalog) []model.SaleRef {
	if profile == nil || len(profile.Passes) == 0 {
		return nil
	}

	byKey := make(map[string]model.SaleRef)
	for _, use := range profile.Passes[0].Uses {
		saleID, teeSheetID := use.SaleID.String(), use.TeeSheetID.String()
		if saleID == "" || teeSheetID == "" {
			continue
		}
		courseID, ok := cat.CourseIDForTeeSheet(teeSheetID)
		if !ok {
			continue
		}
		ref := model.SaleRef{SaleID: saleID, CourseID: courseID}
		byKey[ref.Key()] = ref
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	refs := make([]model.SaleRef, 0, len(keys))
	for _, k := range keys {
		refs = append(refs, byKey[k])
	}
	return refs
}

// LoginDataIdentifier はソート済みの重複排除キー一覧をJSON化し、xxhash64を36進数で返す。
// 暗号学的ハッシュではなく衝突の可能性はあるが、利用者あたり数十件の規模では許容する。
func LoginDataIdentifier(refs []model.SaleRef) string {
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.Key())
	}
	sort.Strings(keys)

	serialized, _ := json.Marshal(keys)
	return strconv.FormatUint(xxhash.Sum64(serialized), 36)
}

// Details は販売明細を返す。
// forceRefreshがfalseで識別子が一致するキャッシュがあれば通信せずに返す。
// 取得は MaxSalesPerRequest 件ずつに分割し、結果は送信順に連結する。
// いずれかの取得や解析に失敗した場合はキャッシュを書き込まずにエラーを返す。
func (c *FinancialCache) Details(ctx context.Context, forceRefresh bool) ([]model.Transaction, error) {
	session, err := c.sessions.Current(ctx)
	if err != nil && !errors.Is(err, model.ErrAuthRequired) {
		return nil, err
	}

	refs := SaleRefs(profileOf(session), c.catalog)
	identifier := LoginDataIdentifier(refs)

	if !forceRefresh {
		if entry, ok := c.readCache(ctx); ok && entry.LoginDataIdentifier == identifier {
			c.logger.Debug("財務明細キャッシュを使用します", slog.Int("transactions", len(entry.Transactions)))
			return entry.Transactions, nil
		}
	}

	c.discard(ctx)

	if len(refs) == 0 {
		empty := []model.Transaction{}
		c.writeCache(ctx, model.FinancialCacheEntry{LoginDataIdentifier: identifier, Transactions: empty})
		return empty, nil
	}

	if !session.Authenticated() {
		return nil, model.NewAuthRequiredError()
	}

	txs := make([]model.Transaction, 0, len(refs))
	for start := 0; start < len(refs); start += model.MaxSalesPerRequest {
		chunk := refs[start:min(start+model.MaxSalesPerRequest, len(refs))]
		body, err := c.api.Sales(ctx, credentialsOf(session), chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch sale details: %w", err)
		}
		part, err := model.DecodeTransactions(body)
		if err != nil {
			return nil, err
		}
		txs = append(txs, part...)
	}

	c.writeCache(ctx, model.FinancialCacheEntry{LoginDataIdentifier: identifier, Transactions: txs})
	c.logger.Info("財務明細を取得しました",
		slog.Int("sales", len(refs)),
		slog.Int("transactions", len(txs)),
	)
	return txs, nil
}

// readCache はキャッシュを読み込む。読み込みや解析に失敗した場合はエントリを削除して未ヒットとする。
func (c *FinancialCache) readCache(ctx context.Context) (*model.FinancialCacheEntry, bool) {
	raw, ok, err := c.store.Get(ctx, KeyFinancialDetails)
	if err != nil {
		c.logger.Warn("財務明細キャッシュの読み込みに失敗しました", slog.String("error", err.Error()))
		c.discard(ctx)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry model.FinancialCacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Transactions == nil {
		c.logger.Warn("財務明細キャッシュが壊れているため破棄します")
		c.discard(ctx)
		return nil, false
	}
	return &entry, true
}

func (c *FinancialCache) writeCache(ctx context.Context, entry model.FinancialCacheEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("財務明細キャッシュのエンコードに失敗しました", slog.String("error", err.Error()))
		return
	}
	if err := c.store.Set(ctx, KeyFinancialDetails, string(raw)); err != nil {
		c.logger.Warn("財務明細キャッシュの保存に失敗しました", slog.String("error", err.Error()))
	}
}

func (c *FinancialCache) discard(ctx context.Context) {
	if err := c.store.Delete(ctx, KeyFinancialDetails); err != nil {
		c.logger.Warn("財務明細キャッシュの削除に失敗しました", slog.String("error", err.Error()))
	}
}
