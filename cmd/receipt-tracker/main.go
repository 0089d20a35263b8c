package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-tracker/internal/auth"
	"github.com/zombor/receipt-tracker/internal/imageproc"
	"github.com/zombor/receipt-tracker/internal/receipt"
	"github.com/zombor/receipt-tracker/internal/scanning"
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

	// Values from the env file never override the real environment
	envFile := os.Getenv("RECEIPTS_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("Failed to load env file", "path", envFile, "error", err)
		os.Exit(1)
	}

	flags := ff.NewFlagSet("receipt-tracker")
	var (
		port           = flags.IntLong("port", 8080, "HTTP server port")
		dbPath         = flags.StringLong("db", "receipts.db", "BoltDB file path, used when no database URL is set")
		databaseURL    = flags.StringLong("database-url", "", "PostgreSQL connection string")
		storageBackend = flags.StringLong("storage-backend", "local", "Image storage: 'local' or 's3'")
		storageDir     = flags.StringLong("storage-dir", "./receipts", "Image directory for local storage")
		publicURL      = flags.StringLong("public-url", "http://localhost:8080", "Externally visible base URL of this server")
		s3Bucket       = flags.StringLong("s3-bucket", "", "S3 bucket name")
		s3Region       = flags.StringLong("s3-region", "eu-central-1", "S3 region")
		s3Endpoint     = flags.StringLong("s3-endpoint", "", "Endpoint of an S3-compatible service")
		s3AccessKey    = flags.StringLong("s3-access-key", "", "S3 access key ID (default credential chain when empty)")
		s3SecretKey    = flags.StringLong("s3-secret-key", "", "S3 secret access key")
		s3PublicURL    = flags.StringLong("s3-public-url", "", "Base URL objects are served from")
		scannerType    = flags.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey      = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = flags.StringLong("gemini-model", "gemini-2.0-flash", "Google Gemini model name")
		ollamaURL      = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = flags.StringLong("ollama-model", "llava", "Ollama model name")
		jwtSecret      = flags.StringLong("jwt-secret", "", "HS256 secret for bearer tokens")
		staticUser     = flags.StringLong("user", "", "Treat every request as this user instead of checking tokens")
		issueToken     = flags.StringLong("issue-token", "", "Print a bearer token for this user and exit")
		tokenTTL       = flags.DurationLong("token-ttl", 30*24*time.Hour, "Lifetime of issued tokens")
		timezone       = flags.StringLong("timezone", "Europe/Berlin", "Time zone printed receipt times are in")
		scanTimeout    = flags.DurationLong("scan-timeout", 2*time.Minute, "Limit for a single extraction call")
		saveTimeout    = flags.DurationLong("save-timeout", 30*time.Second, "Limit for saving a receipt")
		sweepInterval  = flags.DurationLong("sweep-interval", 10*time.Minute, "How often to look for receipts that lost their items")
		sweepGrace     = flags.DurationLong("sweep-grace", 15*time.Minute, "Minimum age of a receipt before it is swept")
		draftTTL       = flags.DurationLong("draft-ttl", 24*time.Hour, "How long unsaved drafts are kept, 0 keeps them until saved or discarded")
		maxDrafts      = flags.IntLong("max-drafts", 20, "Unsaved drafts allowed per user, 0 for no limit")
		maxDimension   = flags.IntLong("max-image-dimension", imageproc.DefaultMaxDimension, "Longest side of stored images in pixels, 0 keeps the original")
		showVersion    = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPTS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize authentication
	var authn auth.Authenticator
	switch {
	case *staticUser != "":
		slog.Warn("Token checks disabled, all requests belong to one user", "user", *staticUser)
		authn = auth.Static{User: *staticUser}
	default:
		jwtAuth, err := auth.NewJWT(*jwtSecret)
		if err != nil {
			slog.Error("Set --jwt-secret or --user", "error", err)
			os.Exit(1)
		}
		if *issueToken != "" {
			token, err := jwtAuth.Issue(*issueToken, *tokenTTL)
			if err != nil {
				slog.Error("Failed to issue token", "error", err)
				os.Exit(1)
			}
			fmt.Println(token)
			os.Exit(0)
		}
		authn = jwtAuth
	}

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		slog.Error("Invalid timezone", "timezone", *timezone, "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...")
	var db receipt.DB
	if *databaseURL != "" {
		db, err = receipt.NewPostgresDB(ctx, *databaseURL)
	} else {
		db, err = receipt.NewBoltDB(*dbPath)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize scanner based on type
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	slog.Info("Initializing scanner...", "type", *scannerType)
	scanner, err := scanning.New(ctx, scanning.Config{
		Provider:    *scannerType,
		GeminiKey:   apiKey,
		GeminiModel: *geminiModel,
		OllamaURL:   *ollamaURL,
		OllamaModel: *ollamaModel,
	})
	if err != nil {
		slog.Error("Failed to initialize scanner", "error", err)
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "backend", *storageBackend)
	var store receipt.Storage
	switch *storageBackend {
	case "local":
		store, err = receipt.NewLocalStorage(*storageDir, *publicURL)
	case "s3":
		store, err = receipt.NewS3Storage(ctx, receipt.S3Config{
			Bucket:          *s3Bucket,
			Region:          *s3Region,
			Endpoint:        *s3Endpoint,
			AccessKeyID:     *s3AccessKey,
			SecretAccessKey: *s3SecretKey,
			PublicBaseURL:   *s3PublicURL,
		})
	default:
		err = fmt.Errorf("unknown storage backend %q", *storageBackend)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	receiptService := receipt.NewService(db, scanner, store, auth.ContextSession{}, receipt.Config{
		Location:          loc,
		ScanTimeout:       *scanTimeout,
		SaveTimeout:       *saveTimeout,
		MaxImageDimension: *maxDimension,
		DraftTTL:          *draftTTL,
		MaxDraftsPerUser:  *maxDrafts,
	})
	// The sweeper also expires drafts
	if *sweepInterval > 0 {
		go receiptService.RunSweeper(ctx, *sweepInterval, *sweepGrace)
	}

	// Initialize server
	server := receipt.NewServer(receiptService, authn)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
