package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/content"
	"github.com/wayfarerhq/wayfarer/internal/dispatch"
	"github.com/wayfarerhq/wayfarer/internal/llm"
	"github.com/wayfarerhq/wayfarer/internal/pipeline"
	"github.com/wayfarerhq/wayfarer/internal/places"
	"github.com/wayfarerhq/wayfarer/internal/run"
	"github.com/wayfarerhq/wayfarer/internal/server"
	"github.com/wayfarerhq/wayfarer/internal/storage"
	"github.com/wayfarerhq/wayfarer/pkg/models"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	verbose    bool
	apiAddr    string

	maxLocations   int
	maxExperiences int
	maxPlans       int
	skipLocations  bool
	skipExps       bool
	skipPlans      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "wayfarer",
		Short:   "Wayfarer - autonomous tourism content generation",
		Long:    `Wayfarer generates tourism platform content (locations, experiences, travel plans) by combining a structured-output LLM with a rate-limited places API.`,
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface",
		Long:  "Serve the generation API: start, status (poll-friendly), cancel, force-reset, plus /metrics and /healthz.",
		RunE:  runServe,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one generation run and exit",
		Long: `Execute the full pipeline once, in the foreground:
1. Ask the LLM which cities need content
2. Fetch raw place candidates per city (rate limited)
3. Enrich each candidate with generated content
4. Materialize locations, experiences, and travel plans under quotas`,
		RunE: runOnce,
	}
	runCmd.Flags().IntVar(&maxLocations, "max-locations", -1, "Location quota for this run (0 = unlimited, -1 = configured default)")
	runCmd.Flags().IntVar(&maxExperiences, "max-experiences", -1, "Experience quota for this run (0 = unlimited, -1 = configured default)")
	runCmd.Flags().IntVar(&maxPlans, "max-plans", -1, "Plan quota for this run (0 = unlimited, -1 = configured default)")
	runCmd.Flags().BoolVar(&skipLocations, "skip-locations", false, "Skip the fetch/enrich/materialize-locations phases")
	runCmd.Flags().BoolVar(&skipExps, "skip-experiences", false, "Skip the experience creation phase")
	runCmd.Flags().BoolVar(&skipPlans, "skip-plans", false, "Skip the plan creation phase")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running server for the current run status",
		RunE:  remoteStatus,
	}
	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Request cooperative cancellation of the active run",
		RunE:  remoteCancel,
	}
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Force the run record back to idle (stuck-run recovery)",
		RunE:  remoteReset,
	}
	for _, c := range []*cobra.Command{statusCmd, cancelCmd, resetCmd} {
		c.Flags().StringVar(&apiAddr, "addr", "http://localhost:8080", "Base URL of the wayfarer server")
	}

	rootCmd.AddCommand(serveCmd, runCmd, statusCmd, cancelCmd, resetCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the full pipeline stack shared
// by serve and run.
type app struct {
	cfg    config.Config
	runs   *run.Manager
	orch   *pipeline.Orchestrator
	logger *slog.Logger
	close  func()
}

func bootstrap() (*app, error) {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if secrets.LLMAPIKey == "" {
		return nil, fmt.Errorf("LLM API key is not set (WAYFARER_LLM_API_KEY or LLM_API_KEY)")
	}
	if secrets.PlacesAPIKey == "" {
		return nil, fmt.Errorf("places API key is not set (WAYFARER_PLACES_API_KEY or GEOAPIFY_API_KEY)")
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	db, err := storage.Open(cfg.Storage.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	runs := run.NewManager(run.NewStore(db), logger)
	contentStore := content.NewStore(db)
	llmClient := llm.NewClient(cfg.LLM, secrets.LLMAPIKey, logger)
	placesClient := places.NewClient(cfg.Places, secrets.PlacesAPIKey, logger)
	dispatcher := dispatch.New(logger)
	orch := pipeline.New(*cfg, llmClient, placesClient, contentStore, runs, dispatcher, logger)

	return &app{
		cfg:    *cfg,
		runs:   runs,
		orch:   orch,
		logger: logger,
		close: func() {
			if err := db.Close(); err != nil {
				logger.Error("closing storage failed", "error", err)
			}
		},
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("wayfarer starting", "version", Version, "config", configPath)
	srv := server.New(a.cfg.Server, a.runs, a.orch, ctx, a.logger)
	return srv.ListenAndServe(ctx)
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := run.StartOptions{
		MaxLocations:    quotaFlag(maxLocations),
		MaxExperiences:  quotaFlag(maxExperiences),
		MaxPlans:        quotaFlag(maxPlans),
		SkipLocations:   skipLocations,
		SkipExperiences: skipExps,
		SkipPlans:       skipPlans,
	}

	rec, err := a.runs.Start()
	if err != nil {
		return err
	}
	a.logger.Info("run started", "run_id", rec.RunID)

	done := make(chan error, 1)
	go func() { done <- a.orch.Execute(ctx, opts) }()

	bar := progressbar.Default(-1, "generating content")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			_ = bar.Finish()
			printRunOutcome(a)
			return err
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}

func printRunOutcome(a *app) {
	rec, err := a.runs.Snapshot()
	if err != nil {
		a.logger.Error("reading final run record failed", "error", err)
		return
	}

	fmt.Fprintf(os.Stderr, "\nRun %s: %s\n", rec.RunID, rec.Status)
	if rec.Message != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", rec.Message)
	}
	for _, c := range rec.Results.Cities {
		fmt.Fprintf(os.Stderr, "  %-20s locations=%d experiences=%d plans=%d\n",
			c.City, c.LocationsCreated, c.ExperiencesCreated, c.PlansCreated)
	}
	for _, e := range rec.Results.Errors {
		fmt.Fprintf(os.Stderr, "  %-20s ERROR: %s\n", e.City, e.Error)
	}
}

// quotaFlag maps the CLI convention (-1 = unset) onto the API convention
// (nil = use default).
func quotaFlag(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

func remoteStatus(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(apiAddr + "/api/generation/status")
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	var rec models.RunRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return fmt.Errorf("decoding status failed: %w", err)
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func remoteCancel(cmd *cobra.Command, args []string) error {
	return postAndReport(apiAddr + "/api/generation/cancel")
}

func remoteReset(cmd *cobra.Command, args []string) error {
	return postAndReport(apiAddr + "/api/generation/reset")
}

func postAndReport(url string) error {
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// loadEnvFile loads KEY=VALUE pairs into the environment. Lines starting
// with # and blank lines are skipped; surrounding quotes are stripped.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}
