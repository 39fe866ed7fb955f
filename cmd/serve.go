package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/verifier/internal/config"
	"github.com/sells-group/verifier/internal/model"
)

var servePort int

// engineAPI is the part of the engine the HTTP API needs.
type engineAPI interface {
	Verify(ctx context.Context, req model.VerificationRequest) model.VerificationResult
	Lookup(ctx context.Context, messageID int64) (*model.StoredVerification, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initVerifier(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env.Engine, env.Registry, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the API routes. gatherer may be nil to serve the
// default registry.
func buildRouter(eng engineAPI, gatherer prometheus.Gatherer, origins []string) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/verifications", func(r chi.Router) {
		r.Post("/", handleVerify(eng))
		r.Get("/{messageID}", handleLookup(eng))
	})

	return r
}

func handleVerify(eng engineAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.VerificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.MessageID <= 0 {
			respondError(w, http.StatusBadRequest, "message_id is required")
			return
		}

		res := eng.Verify(r.Context(), req)
		zap.L().Info("verification served",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("message_id", req.MessageID),
			zap.Int("trust_score", res.TrustScore),
		)
		respondJSON(w, http.StatusOK, res)
	}
}

func handleLookup(eng engineAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "invalid message id")
			return
		}

		stored, err := eng.Lookup(r.Context(), id)
		if err != nil {
			zap.L().Error("lookup failed", zap.Int64("message_id", id), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if stored == nil {
			respondError(w, http.StatusNotFound, "verification not found")
			return
		}
		respondJSON(w, http.StatusOK, stored)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
