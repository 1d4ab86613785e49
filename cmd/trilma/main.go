package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/trilma/internal/archive"
	"github.com/pavelanni/trilma/internal/exam"
	"github.com/pavelanni/trilma/internal/handler"
	appI18n "github.com/pavelanni/trilma/internal/i18n"
	"github.com/pavelanni/trilma/internal/latex"
	"github.com/pavelanni/trilma/internal/model"
	"github.com/pavelanni/trilma/internal/render"
	"github.com/pavelanni/trilma/internal/store"
	"github.com/pavelanni/trilma/internal/tasks"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trilma",
		Short: "Exam generator for teachers",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `trilma --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("env", "development", "Deployment environment; also the storage namespace segment")
	f.String("store", "sqlite", "Exam record backend (sqlite, firestore)")
	f.String("db", "trilma.db", "SQLite database path")
	f.String("gcp-project", "", "Google Cloud project for Firestore and Vertex AI")
	f.String("firestore-collection", store.DefaultCollection, "Firestore collection for exam records")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /api)")
	f.String("blob", "local", "Document storage backend (local, gcs)")
	f.String("blob-dir", "data/exams", "Directory for the local document storage")
	f.String("gcs-bucket", "", "Cloud Storage bucket for the gcs document storage")
	f.String("llm-provider", "openai", "Generation backend (openai, vertex)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("vertex-region", "us-central1", "Vertex AI region")
	f.Int("max-output-tokens", 20000, "Maximum tokens in a generated exam")
	f.Int("generation-attempts", 3, "Generation attempts before giving up")
	f.String("render-url", "http://localhost:8090/render", "LaTeX rendering service endpoint")
	f.Duration("render-timeout", render.DefaultTimeout, "Deadline for a single render call")
	f.String("jwt-secret", "", "HMAC secret of the session tokens (or set TRILMA_JWT_SECRET)")
	f.StringP("lang", "l", "en", "Document and message language (en, es)")
	f.String("debug-dir", "debug", "Directory for payload and LaTeX dumps in development")
	f.Int("workers", 2, "Background archiving workers")
	f.Int("queue-depth", 64, "Archiving jobs that may wait for a worker")
	f.Duration("persist-timeout", 2*time.Minute, "Deadline for archiving one exam")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an owner's exam records as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.Int64("owner", 0, "Owner (user id) whose exams are exported (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")

	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TRILMA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("trilma")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/trilma")
	v.AddConfigPath("/etc/trilma")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := v.GetString("jwt-secret")
	if secret == "" {
		return errors.New("jwt secret is required: set --jwt-secret flag or TRILMA_JWT_SECRET env var")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	slog.Debug("loaded locales", "languages", appI18n.Languages())

	records, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer records.Close()

	blobs, closeBlobs, err := openBlobs(ctx, v)
	if err != nil {
		return err
	}
	defer closeBlobs()

	gen, closeGen, err := openGenerator(ctx, v)
	if err != nil {
		return err
	}
	defer closeGen()

	env := v.GetString("env")
	examCfg := model.ExamConfig{
		Env:            env,
		IncludeDebug:   env == "development",
		DebugDir:       v.GetString("debug-dir"),
		PersistTimeout: v.GetDuration("persist-timeout"),
	}

	queue := tasks.New(v.GetInt("workers"), v.GetInt("queue-depth"), examCfg.PersistTimeout)
	queue.Start(ctx)

	svc := exam.NewService(
		gen,
		render.New(v.GetString("render-url"), v.GetDuration("render-timeout")),
		archive.New(blobs, records, archive.PDFInspector{}, env),
		queue,
		latex.NewRenderer(nil, appI18n.LabelsFor(lang)),
		examCfg,
	)
	h := handler.New(svc, records, blobs, handler.Config{Env: env, JWTSecret: []byte(secret)})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"env", env,
			"lang", lang,
			"store", v.GetString("store"),
			"blob", v.GetString("blob"),
			"llm_provider", v.GetString("llm-provider"),
			"model", v.GetString("llm-model"),
			"render_url", v.GetString("render-url"),
			"base_path", basePath,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = queue.Close()
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	// Wait for exams that were already answered to be archived.
	if err := queue.Close(); err != nil {
		slog.Error("task queue shutdown", "error", err)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	records, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer records.Close()

	export, err := store.ExportExams(ctx, records, v.GetInt64("owner"), v.GetString("env"))
	if err != nil {
		return fmt.Errorf("export exams: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported exams", "owner", export.OwnerID, "count", export.Count)
	return nil
}
