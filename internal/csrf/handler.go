package csrf

import (
	"encoding/json"
	"net/http"
)

// TokenHandler обслуживает GET /csrf-token: токен уже выставлен Issue
// в заголовке, тело — подтверждение.
func TokenHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "CSRF token set"})
}
