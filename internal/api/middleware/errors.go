package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/adminpilot/control-plane/pkg/models"
)

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Success: false, Error: message, Code: code})
}
