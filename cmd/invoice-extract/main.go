package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-extract/internal/extract"
	"github.com/zombor/invoice-extract/internal/review"
	"github.com/zombor/invoice-extract/internal/scanning"
	"github.com/zombor/invoice-extract/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("invoice-extract")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		scannerType     = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiCredsFile = fs.StringLong("gemini-credentials-file", "", "Service account key file (or set GOOGLE_APPLICATION_CREDENTIALS env var)")
		geminiCredsJSON = fs.StringLong("gemini-credentials-json", "", "Service account key JSON")
		geminiModel     = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", scanning.DefaultOllamaURL, "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", scanning.DefaultOllamaModel, "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		modelTimeout    = fs.DurationLong("model-timeout", 60*time.Second, "Deadline for a single model call (0 disables)")
		corsOrigins     = fs.StringLong("cors-origins", server.DefaultAllowedOrigin, "Comma-separated allowed CORS origins ('*' for any)")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		reviewDB        = fs.StringLong("review-db", "invoice-extract.db", "Review queue database path (empty disables the review queue)")
		reviewStorage   = fs.StringLong("review-storage", "./reviews", "Review queue document directory")
		logLevel        = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_EXTRACT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize scanner based on type
	var (
		scanner   scanning.Scanner
		diagnoser scanning.Diagnoser
		identity  = scanning.Identity{Mode: scanning.CredentialModeNone}
	)
	switch *scannerType {
	case "gemini":
		creds := scanning.CredentialSource{
			APIKey: *geminiKey,
			File:   *geminiCredsFile,
			JSON:   *geminiCredsJSON,
		}
		// Fall back to the conventional environment variables
		if creds.Mode() == "" {
			creds.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		if creds.Mode() == "" {
			creds.File = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		}

		slog.Info("Initializing Gemini scanner...", "model", *geminiModel, "credentials", creds.Mode())
		client, err := scanning.NewGeminiClient(ctx, creds)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}

		identity, err = creds.Identity()
		if err != nil {
			slog.Error("Failed to read credential identity", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		gemini := scanning.NewGemini(client, *geminiModel)
		scanner, diagnoser = gemini, gemini
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		ollama := scanning.NewOllama(*ollamaURL, *ollamaModel, nil)
		scanner, diagnoser = ollama, ollama
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize review queue
	var reviews server.ReviewStore
	if *reviewDB != "" {
		slog.Info("Initializing review queue...", "db", *reviewDB, "storage", *reviewStorage)
		db, err := review.NewBoltDB(*reviewDB)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		store, err := review.NewLocalStorage(*reviewStorage)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		reviews = review.NewService(db, store)
	}

	// Initialize server
	srv := server.NewServer(extract.NewService(scanner, slog.Default()), diagnoser, reviews, server.Config{
		BasicAuth: server.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		AllowedOrigins: splitList(*corsOrigins),
		ModelTimeout:   *modelTimeout,
		Identity:       identity,
	})

	addr := fmt.Sprintf(":%d", *port)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

// splitList splits a comma-separated flag value, dropping empty entries
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
