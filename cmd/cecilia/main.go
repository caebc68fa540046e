package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/api"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/calendar"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/config"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/conversation"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/genai"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/lockfile"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/messaging"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/recovery"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/store"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/twiliowhatsapp"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/util"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/whatsapp"
	"github.com/joho/godotenv"
)

// DefaultDBFileName is the default SQLite database filename
const DefaultDBFileName = "cecilia.db"

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	apiAddr   *string
	transport *string
}

func main() {
	initializeLogger()

	cfg := loadConfiguration()
	flags := parseCommandLineFlags(cfg)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audit and repair conversations left behind by a previous run.
	if _, err := recovery.NewManager(st).RecoverAll(ctx); err != nil {
		slog.Error("Startup recovery failed", "error", err)
		os.Exit(1)
	}

	msgService, err := buildMessagingService(cfg, flags)
	if err != nil {
		slog.Error("Failed to initialize messaging service", "error", err)
		os.Exit(1)
	}
	defer msgService.Stop()

	pipeline := buildPipeline(cfg, st, msgService)

	server := api.NewServer(pipeline, msgService, st, api.WithAddr(*flags.apiAddr))
	slog.Info("Bootstrapping receptionist service", "transport", *flags.transport,
		"state_dir", *flags.stateDir, "api_addr", *flags.apiAddr)
	if err := server.Run(ctx); err != nil {
		slog.Error("Receptionist service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Receptionist service exited successfully")
}

// initializeLogger sets up structured logging; CECILIA_DEBUG=true enables
// debug level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CECILIA_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadConfiguration loads the .env file and binds the environment config.
func loadConfiguration() *config.Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseDSN)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = filepath.Join(cfg.StateDir, "whatsmeow.db")
	}

	return cfg
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(cfg *config.Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:  flag.String("state-dir", cfg.StateDir, "state directory for receptionist data (overrides $CECILIA_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", cfg.DatabaseDSN, "database DSN for the conversation store (overrides $DATABASE_URL)"),
		apiAddr:   flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		transport: flag.String("transport", cfg.Transport, "message transport: whatsapp or twilio (overrides $MESSAGE_TRANSPORT)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport)

	// Follow a moved state directory when the DSN was derived from the default.
	if *flags.dbDSN == filepath.Join(cfg.StateDir, DefaultDBFileName) && *flags.stateDir != cfg.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage.
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return os.MkdirAll(*flags.stateDir, 0755)
}

// buildStore selects the store backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildMessagingService constructs the configured transport.
func buildMessagingService(cfg *config.Config, flags Flags) (messaging.Service, error) {
	switch *flags.transport {
	case "twilio":
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFrom),
		)
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	default:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

// buildPipeline assembles the conversation pipeline and its collaborators.
func buildPipeline(cfg *config.Config, st store.Store, msgService messaging.Service) *conversation.Pipeline {
	var generator conversation.AnswerGenerator
	if cfg.OpenAIKey != "" {
		cli, err := genai.NewClientWithKey(cfg.OpenAIKey)
		if err != nil {
			slog.Warn("GenAI client unavailable, information answers fall back to templates", "error", err)
		} else {
			generator = genai.NewGenerator(cli)
		}
	} else {
		slog.Warn("No OpenAI API key configured, information answers fall back to templates")
	}

	var backend calendar.Backend
	if cfg.Scheduling.CalendarURL != "" {
		timeout, err := time.ParseDuration(cfg.Scheduling.CalendarTimeout)
		if err != nil {
			timeout = 10 * time.Second
		}
		backend = calendar.NewHTTPBackend(cfg.Scheduling.CalendarURL, timeout)
	} else {
		slog.Warn("No calendar URL configured, bookings fall back to the human contact")
	}

	breaker := conversation.NewCircuitBreaker(cfg.CircuitBreaker)
	router := conversation.NewRouter(breaker)
	valRouter := conversation.NewValidationRouter(cfg.Validation)
	states := conversation.NewStateManager(st)
	delivery := messaging.NewDeliveryService(msgService, st)
	nodes := conversation.BuildNodes(breaker, generator, backend, cfg.Scheduling, cfg.HumanContact)

	return conversation.NewPipeline(states, breaker, router, valRouter, delivery, nodes)
}
