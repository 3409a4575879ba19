package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"castly-sync-server/clock"
	"castly-sync-server/config"
	"castly-sync-server/hub"
	"castly-sync-server/mirror"
	"castly-sync-server/protocol"
	ws "castly-sync-server/websocket"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m hub.Mirror
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		rm := mirror.NewRedis(rdb, cfg.InstanceID)
		go rm.Run(ctx)
		m = rm
		slog.Info("redis mirror enabled", "addr", opts.Addr)
	}

	h := hub.New(clock.System(), hub.Options{
		GracePeriod:      cfg.GracePeriod,
		DriftThreshold:   cfg.DriftThreshold,
		ChatMaxLength:    cfg.ChatMaxLength,
		MaxRoomMembers:   cfg.RoomMaxMembers,
		SignalMaxPayload: cfg.SignalMaxPayload,
	}, m)
	go h.Run(ctx)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: newRouter(h, cfg),
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "instance", cfg.InstanceID)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func newRouter(h *hub.Hub, cfg config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", livenessHandler(h, cfg.InstanceID))
	r.Get("/health", healthHandler)
	r.Get("/rooms/{roomID}", roomHandler(h))
	r.Get("/ws", ws.Handler(ws.NewUpgrader(cfg.AllowedOrigins), h, protocol.NewHandler(h), cfg.WSMaxMessageSize))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func livenessHandler(h *hub.Hub, instanceID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := h.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"uptimeSeconds": int64(s.Uptime.Seconds()),
			"rooms":         s.Rooms,
			"online":        s.Online,
			"connections":   s.Connections,
			"instanceId":    instanceID,
		})
	}
}

func roomHandler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := h.RoomSnapshot(chi.URLParam(r, "roomID"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}
