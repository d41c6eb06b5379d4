package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxSalesPerRequest は1回の /api/sales で送れるSaleRefの上限。
// これを超える場合はクライアント側で分割して送る。
const MaxSalesPerRequest = 200

// SaleRef は (販売ID, コースID) の組。財務明細の一括取得で使用する。
type SaleRef struct {
	SaleID   string `json:"sale_id" validate:"required"`
	CourseID string `json:"course_id" validate:"required"`
}

// Key は重複排除用のキーを返す。
// 単純連結だと "1"+"23" と "12"+"3" が衝突するため区切り文字を挟む。
func (r SaleRef) Key() string {
	return r.SaleID + ":" + r.CourseID
}

// Transaction は1回の販売（ラウンド料金など）の明細。
type Transaction struct {
	SaleID   FlexString        `json:"sale_id"`
	CourseID FlexString        `json:"course_id"`
	SaleTime string            `json:"sale_time"`
	Subtotal FlexFloat         `json:"subtotal"`
	Tax      FlexFloat         `json:"tax"`
	Total    FlexFloat         `json:"total"`
	Items    []TransactionItem `json:"items"`
}

// TransactionItem は販売明細の1行。
type TransactionItem struct {
	Name     string    `json:"name"`
	Quantity FlexFloat `json:"quantity"`
	Price    FlexFloat `json:"price"`
	Total    FlexFloat `json:"total"`
}

// FinancialCacheEntry は財務明細キャッシュの保存形式。
// LoginDataIdentifierが現在のセッションから再計算した値と一致する場合のみ有効。
type FinancialCacheEntry struct {
	LoginDataIdentifier string        `json:"loginDataIdentifier"`
	Transactions        []Transaction `json:"transactions"`
}

// DecodeTransactions は販売明細配列の応答をデコードする。
// 配列以外の応答はフォールバック対象ではなくエラーとして扱う。
func DecodeTransactions(body []byte) ([]Transaction, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("sales response is not an array: %w", ErrUpstreamMalformed)
	}

	var txs []Transaction
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode sales: %v: %w", err, ErrUpstreamMalformed)
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return txs, nil
}
