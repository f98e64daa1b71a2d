package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/auth"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/config"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/generator"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/logging"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/pipeline"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/quality"
)

// CLI flags
var (
	portFlag  int
	modelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "tryon-server",
	Short: "Identity-preserving virtual try-on service",
	Long: `Tryon Server runs the virtual try-on pipeline behind an HTTP API.
Upload a person photo and a garment photo; the service generates a
composite of the person wearing the garment with the face pixels
guaranteed to come from the original photo.

Examples:
  tryon-server
  tryon-server --port 9090
  tryon-server --model gemini-2.5-flash-image`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", generator.DefaultImageModel, "Gemini image model to use")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()
	initStart := time.Now()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	timeouts := config.LoadTimeouts()

	// Validate API key at startup
	apiKey, err := auth.GetAPIKey()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get API key")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	if err := auth.ValidateAPIKey(ctx, client); err != nil {
		log.Fatal().Err(err).Msg("Invalid API key")
	}

	orchestrator := pipeline.New(
		cfg,
		timeouts,
		generator.NewGeminiGenerator(apiKey, modelFlag, timeouts.Generation),
		quality.NewGeminiAnalyzer(client, ""),
	)
	srvHandlers := newServer(orchestrator)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tryon", srvHandlers.handleTryon)
	mux.HandleFunc("/api/runs/", srvHandlers.handleRunTrace)
	mux.HandleFunc("/healthz", srvHandlers.handleHealth)

	handler := withLogging(withSecurityHeaders(mux))

	addr := fmt.Sprintf(":%d", portFlag)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.NewStartupLogger("tryon-server").
		Model("generation", modelFlag).
		Model("qualityGate", quality.DefaultAnalysisModel).
		Feature("driftFailOpen", cfg.DriftFailOpen).
		Config("port", fmt.Sprintf("%d", portFlag)).
		Config("maxRetriesPerSession", fmt.Sprintf("%d", cfg.MaxRetriesPerSession)).
		Config("generationTimeout", timeouts.Generation.String()).
		InitDuration(time.Since(initStart)).
		Log()

	log.Info().Int("port", portFlag).Str("model", modelFlag).Msg("Starting try-on server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}
	})
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
