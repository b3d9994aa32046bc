package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quickmoney/lendchat/internal/auth"
	"github.com/quickmoney/lendchat/internal/chat"
	"github.com/quickmoney/lendchat/internal/database"
	"github.com/quickmoney/lendchat/internal/handlers"
	"github.com/quickmoney/lendchat/internal/middleware"
)

type Deps struct {
	Store       database.Store
	Hub         *chat.Hub
	Tokens      *auth.TokenManager
	Online      handlers.OnlineLister // defaults to the hub
	SendLimiter *middleware.LimiterStore
	AuthLimiter *middleware.LimiterStore
	CORSOrigin  string
}

// NewRouter wires every HTTP route of the chat server. CORS wraps the
// router so preflight requests are answered before route matching.
func NewRouter(d Deps) http.Handler {
	if d.Online == nil {
		d.Online = d.Hub
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging)

	// Public routes
	router.HandleFunc("/health", handlers.Health(d.Store)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	signup := http.Handler(auth.SignupHandler(d.Store, d.Tokens))
	login := http.Handler(auth.LoginHandler(d.Store, d.Tokens))
	if d.AuthLimiter != nil {
		signup = middleware.RateLimit(d.AuthLimiter, "signup")(signup)
		login = middleware.RateLimit(d.AuthLimiter, "login")(login)
	}
	router.Handle("/api/auth/signup", signup).Methods("POST")
	router.Handle("/api/auth/login", login).Methods("POST")

	// WebSocket
	router.HandleFunc("/ws", d.Hub.ServeWS(d.Tokens)).Methods("GET")

	// Protected routes
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(auth.JWTMiddleware(d.Tokens))

	protected.HandleFunc("/auth/me", auth.MeHandler(d.Store)).Methods("GET")
	protected.HandleFunc("/chat/history/{senderId}/{receiverId}", handlers.GetHistory(d.Store)).Methods("GET")
	protected.HandleFunc("/chat/conversations/{userId}", handlers.ListConversations(d.Store)).Methods("GET")
	protected.HandleFunc("/chat/online", handlers.Online(d.Online)).Methods("GET")
	protected.HandleFunc("/users/search", handlers.SearchUsers(d.Store)).Methods("GET")
	protected.HandleFunc("/users/{id}", handlers.GetUser(d.Store)).Methods("GET")

	send := http.Handler(handlers.SendMessage(d.Store))
	if d.SendLimiter != nil {
		send = middleware.RateLimit(d.SendLimiter, "send")(send)
	}
	protected.Handle("/chat/send", send).Methods("POST")

	return middleware.CORS(d.CORSOrigin)(router)
}
