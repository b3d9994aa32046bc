package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/quickmoney/lendchat/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeData answers with the {success:true, data} envelope.
func writeData[T any](w http.ResponseWriter, status int, data T) {
	writeJSON(w, status, models.Envelope[T]{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.Envelope[any]{Success: false, Error: msg})
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "lendchat",
				"error":   err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "lendchat",
		})
	}
}
