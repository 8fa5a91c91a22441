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

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/doc-ledger/internal/classify"
	"github.com/zombor/doc-ledger/internal/document"
	"github.com/zombor/doc-ledger/internal/scanning"
	"github.com/zombor/doc-ledger/internal/storage"
	"github.com/zombor/doc-ledger/internal/versioning"
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

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("doc-ledger")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "doc-ledger.db", "Database file path")
		storagePath     = fs.StringLong("storage", "./documents", "Directory for original uploaded files")
		ocrType         = fs.StringLong("ocr", "gemini", "OCR backend for images and scanned PDFs: 'gemini', 'ollama' or 'none'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		producerTimeout = fs.DurationLong("producer-timeout", 2*time.Minute, "Maximum time spent turning one upload into text")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DOC_LEDGER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing database...", "path", *dbPath)
	db, err := storage.OpenBolt(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo, err := document.NewBoltRepository(db)
	if err != nil {
		slog.Error("Failed to initialize document repository", "error", err)
		os.Exit(1)
	}
	engine, err := versioning.NewEngine(db)
	if err != nil {
		slog.Error("Failed to initialize version engine", "error", err)
		os.Exit(1)
	}
	feedback, err := classify.NewBoltFeedback(db)
	if err != nil {
		slog.Error("Failed to initialize classification feedback", "error", err)
		os.Exit(1)
	}

	ocr, err := newOCR(*ocrType, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize OCR", "type", *ocrType, "error", err)
		os.Exit(1)
	}
	if ocr != nil {
		defer ocr.Close()
	} else {
		slog.Info("OCR disabled, only text and text-layer PDF uploads are readable")
	}
	producer := scanning.NewRouter(ocr)

	slog.Info("Initializing storage...", "path", *storagePath)
	files, err := storage.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := document.NewService(repo, engine, classify.New(feedback), producer, files).
		WithProducerTimeout(*producerTimeout)
	server := document.NewServer(service)

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
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// newOCR builds the configured image transcriber. It returns nil for "none".
func newOCR(kind, geminiKey, geminiModel, ollamaURL, ollamaModel string) (scanning.OCR, error) {
	switch kind {
	case "gemini":
		apiKey := geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini OCR...", "model", geminiModel)
		return scanning.NewGemini(context.Background(), apiKey, geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", ollamaURL, "model", ollamaModel)
		return scanning.NewOllama(ollamaURL, ollamaModel)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid OCR type %q, valid: gemini, ollama or none", kind)
	}
}
