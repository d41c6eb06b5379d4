package foreup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/teebox/internal/model"
)

// SaleGetter は販売明細1件の取得インターフェース。
// テスト時にモックに差し替え可能。
type SaleGetter interface {
	Sale(ctx context.Context, auth Auth, ref model.SaleRef) (*Response, error)
}

// SaleBatch は複数の販売明細を並列数を制限して取得する。
type SaleBatch struct {
	client         SaleGetter
	logger         *slog.Logger
	maxConcurrency int
}

// NewSaleBatch はSaleBatchの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewSaleBatch(client SaleGetter, logger *slog.Logger, maxConcurrency int) *SaleBatch {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &SaleBatch{
		client:         client,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Fetch はrefsの順序どおりに販売明細を返す。
// 1件でも失敗した場合は残りを取り消し、バッチ全体をエラーとする。
// 各明細はJSONオブジェクトであることのみ検証し、中身は加工しない。
func (b *SaleBatch) Fetch(ctx context.Context, auth Auth, refs []model.SaleRef) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(refs))
	if len(refs) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxConcurrency)

	for i, ref := range refs {
		g.Go(func() error {
			resp, err := b.client.Sale(gctx, auth, ref)
			if err != nil {
				return err
			}
			if !resp.OK() {
				return model.NewUpstreamMalformedError(fmt.Sprintf("sale %s returned status %d", ref.SaleID, resp.Status))
			}

			body := bytes.TrimSpace(resp.Body)
			if len(body) == 0 || body[0] != '{' || !json.Valid(body) {
				return model.NewUpstreamMalformedError(fmt.Sprintf("sale %s is not a JSON object", ref.SaleID))
			}
			results[i] = json.RawMessage(body)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		b.logger.Warn("販売明細の一括取得に失敗しました",
			slog.Int("sale_count", len(refs)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	b.logger.Debug("販売明細を一括取得しました",
		slog.Int("sale_count", len(refs)),
	)
	return results, nil
}
