package handler

import "net/http"

// HealthHandler はヘルスチェック応答を返す。
type HealthHandler struct {
	version string
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health はプロセスが応答可能であることを返す。ベンダーへの疎通は確認しない。
// GET /health, GET /
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: h.version})
}
