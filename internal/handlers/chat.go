package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/quickmoney/lendchat/internal/auth"
	"github.com/quickmoney/lendchat/internal/database"
	"github.com/quickmoney/lendchat/internal/metrics"
	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/room"
)

// GetHistory returns every message between the two path users, oldest
// first. The caller must be one of them.
func GetHistory(store database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		a, b := vars["senderId"], vars["receiverId"]
		userID := auth.UserID(r.Context())

		if userID != a && userID != b {
			writeError(w, http.StatusForbidden, "not a participant of this conversation")
			return
		}

		messages, err := store.GetHistory(r.Context(), room.ID(a, b))
		if err != nil {
			slog.Error("failed to get history", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeData(w, http.StatusOK, messages)
	}
}

// SendMessage persists a message from the caller. Repeating a clientId
// returns the message stored the first time.
func SendMessage(store database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())

		var req models.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SenderID != userID {
			writeError(w, http.StatusForbidden, "senderId does not match the authenticated user")
			return
		}
		if req.ReceiverID == "" || strings.TrimSpace(req.Text) == "" {
			writeError(w, http.StatusBadRequest, "receiverId and message are required")
			return
		}
		roomID := room.ID(req.SenderID, req.ReceiverID)
		if req.RoomID != "" && req.RoomID != roomID {
			writeError(w, http.StatusBadRequest, "roomId does not match the participants")
			return
		}

		msg, err := store.CreateMessage(r.Context(), models.Message{
			ClientID:   req.ClientID,
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			RoomID:     roomID,
			Text:       req.Text,
		})
		if err != nil {
			metrics.SendFailures.Inc()
			slog.Error("failed to create message", "error", err, "room_id", roomID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		metrics.MessagesPersisted.Inc()

		writeData(w, http.StatusCreated, msg)
	}
}

// ListConversations returns the caller's conversations, newest first.
func ListConversations(store database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := mux.Vars(r)["userId"]
		if target != auth.UserID(r.Context()) {
			writeError(w, http.StatusForbidden, "cannot list another user's conversations")
			return
		}

		convs, err := store.ListConversations(r.Context(), target)
		if err != nil {
			slog.Error("failed to list conversations", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeData(w, http.StatusOK, convs)
	}
}

type OnlineLister interface {
	Online() []string
}

// Online lists users holding a push connection.
func Online(presence OnlineLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, presence.Online())
	}
}
