package handler

import (
	"encoding/json"
	"net/http"
)

// Health はプロセスの死活を返す。バックエンドへの疎通は確認しない。
// GET /health
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
