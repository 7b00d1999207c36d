package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/datahub-cli/internal/query"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dataset HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		r := newRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
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

// newRouter builds the HTTP API served by the serve command.
func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/datasets", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, env.Catalog.Datasets)
	})

	r.Get("/api/files", func(w http.ResponseWriter, req *http.Request) {
		files, err := env.Store.List()
		if err != nil {
			zap.L().Error("list files failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list files failed"})
			return
		}
		writeJSON(w, http.StatusOK, files)
	})

	// Per-dataset failures live inside the outcome list; the batch
	// itself always answers 200.
	r.Post("/api/refresh", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Keys []string `json:"keys"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		outcomes := env.Orch.Refresh(req.Context(), body.Keys)
		writeJSON(w, http.StatusOK, outcomes)
	})

	r.Get("/api/datasets/{key}/rows", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")
		q := req.URL.Query().Get("q")
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))

		result, err := env.Query.Query(key, q, limit, offset)
		if err != nil {
			var nf *query.NotFoundError
			if errors.As(err, &nf) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
				return
			}
			zap.L().Error("query failed", zap.String("key", key), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
