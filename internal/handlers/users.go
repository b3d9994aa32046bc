package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quickmoney/lendchat/internal/database"
	"github.com/quickmoney/lendchat/internal/models"
)

func SearchUsers(store database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeData(w, http.StatusOK, []models.User{})
			return
		}

		users, err := store.SearchUsers(r.Context(), query, 20)
		if err != nil {
			slog.Error("failed to search users", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeData(w, http.StatusOK, users)
	}
}

// GetUser returns the public profile used next to a conversation.
func GetUser(store database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := store.GetUserByID(r.Context(), mux.Vars(r)["id"])
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			slog.Error("failed to get user", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeData(w, http.StatusOK, models.Counterpart{ID: u.ID, Name: u.Name, ProfilePic: u.ProfilePic})
	}
}
