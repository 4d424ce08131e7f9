package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sashishuu/portalberita-sub001/auth"
	"github.com/sashishuu/portalberita-sub001/hub"
	"github.com/sashishuu/portalberita-sub001/notification"
	"github.com/sashishuu/portalberita-sub001/protocol"
	ws "github.com/sashishuu/portalberita-sub001/websocket"
)

var commentEvents = map[string]struct{}{
	"new-comment":   {},
	"comment-reply": {},
	"comment-liked": {},
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "portalberita.db"
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		slog.Error("failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}

	store := notification.NewStore(db)
	if err := store.Migrate(); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	broadcaster := hub.New()
	verifier := auth.NewVerifier(auth.Config{Secret: secret, Issuer: os.Getenv("JWT_ISSUER")})
	associator := auth.NewAssociator(verifier, broadcaster)
	handler := protocol.NewHandler(associator, broadcaster)
	emitter := notification.NewEmitter(store, broadcaster)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(os.Getenv("ALLOWED_ORIGINS")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(upgrader, broadcaster, handler))
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /stats", statsHandler(broadcaster))
	mux.HandleFunc("GET /notifications", listNotificationsHandler(store))
	mux.HandleFunc("POST /notifications", notifyHandler(emitter))
	mux.HandleFunc("POST /notifications/{id}/read", markReadHandler(store))
	mux.HandleFunc("POST /events/comment", commentEventHandler(broadcaster))
	mux.HandleFunc("POST /events/announce", announceHandler(broadcaster))

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// originChecker builds the upgrade origin check from a comma-separated
// allow-list. An empty list allows all origins (dev default).
func originChecker(allowed string) func(r *http.Request) bool {
	allowed = strings.TrimSpace(allowed)
	if allowed == "" {
		return func(r *http.Request) bool { return true }
	}

	origins := make(map[string]struct{})
	for _, o := range strings.Split(allowed, ",") {
		origins[strings.TrimSpace(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := origins[origin]
		return ok
	}
}

func wsHandler(upgrader websocket.Upgrader, broadcaster *hub.Hub, handler *protocol.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		wsConn := ws.NewConn(uuid.New().String(), conn, broadcaster, handler)
		if err := wsConn.Start(); err != nil {
			slog.Error("connection start failed", "error", err)
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(broadcaster *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, clients := broadcaster.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "clients": clients})
	}
}

func listNotificationsHandler(store *notification.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if user == "" {
			http.Error(w, "user query parameter is required", http.StatusBadRequest)
			return
		}

		notifications, err := store.ListUnread(user)
		if err != nil {
			slog.Error("list notifications failed", "user", user, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(notifications)
	}
}

func notifyHandler(emitter *notification.Emitter) http.HandlerFunc {
	type request struct {
		Recipient string `json:"recipient"`
		Kind      string `json:"kind"`
		Message   string `json:"message"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Recipient == "" {
			http.Error(w, "recipient is required", http.StatusBadRequest)
			return
		}

		n, err := emitter.Notify(req.Recipient, req.Kind, req.Message)
		if err != nil {
			if errors.Is(err, notification.ErrInvalidKind) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			slog.Error("notify failed", "recipient", req.Recipient, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(n)
	}
}

func markReadHandler(store *notification.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := store.MarkRead(id); err != nil {
			if errors.Is(err, notification.ErrNotFound) {
				http.Error(w, "notification not found", http.StatusNotFound)
				return
			}
			slog.Error("mark read failed", "id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// commentEventHandler is the integration point for the comment flow:
// it is called after the comment itself is committed, and only fans
// the event out to the article's room.
func commentEventHandler(broadcaster *hub.Hub) http.HandlerFunc {
	type request struct {
		ArticleID string          `json:"articleId"`
		Event     string          `json:"event"`
		Payload   json.RawMessage `json:"payload"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.ArticleID == "" {
			http.Error(w, "articleId is required", http.StatusBadRequest)
			return
		}
		if _, ok := commentEvents[req.Event]; !ok {
			http.Error(w, "unknown comment event", http.StatusBadRequest)
			return
		}

		if err := broadcaster.SendToRoom(hub.ArticleRoom(req.ArticleID), req.Event, req.Payload); err != nil {
			slog.Error("comment event broadcast failed", "articleId", req.ArticleID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func announceHandler(broadcaster *hub.Hub) http.HandlerFunc {
	type request struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Event == "" {
			http.Error(w, "event is required", http.StatusBadRequest)
			return
		}

		if err := broadcaster.SendToAll(req.Event, req.Payload); err != nil {
			slog.Error("announce broadcast failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
