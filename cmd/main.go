package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lifeos/internal/analysis"
	"lifeos/internal/caldav"
	"lifeos/internal/dashboard"
	"lifeos/internal/demo"
	"lifeos/internal/google"
	"lifeos/internal/ingest"
	"lifeos/internal/models"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "lifeos",
		Usage: "Collect your Google Calendar and Gmail into one dashboard.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "client-id", EnvVars: []string{"GOOGLE_CLIENT_ID"}, Usage: "OAuth client ID."},
			&cli.StringFlag{Name: "client-secret", EnvVars: []string{"GOOGLE_CLIENT_SECRET"}, Usage: "OAuth client secret. Read from --credentials when empty."},
			&cli.StringFlag{Name: "credentials", EnvVars: []string{"GOOGLE_CREDENTIALS_FILE"}, Value: google.DefaultCredentialsFile, Usage: "OAuth client file downloaded from the Google console."},
			&cli.StringFlag{Name: "token-cache", EnvVars: []string{"GOOGLE_TOKEN_FILE"}, Value: google.DefaultTokenFile, Usage: "File the OAuth token is cached in between runs. Empty disables the cache."},
			&cli.DurationFlag{Name: "init-timeout", EnvVars: []string{"INIT_TIMEOUT"}, Value: 10 * time.Second, Usage: "How long to wait for the API and identity clients."},
			&cli.StringFlag{Name: "timezone", EnvVars: []string{"PRIMARY_TIMEZONE"}, Value: "Local", Usage: "Timezone used to read wall-clock event times."},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Value: "info", Usage: "debug, info, warn or error."},
		},
		Commands: []*cli.Command{
			dashboardCommand(),
			serveCommand(),
			exportCommand(),
			publishCommand(),
		},
	}
}

var demoFlag = &cli.BoolFlag{Name: "demo", Usage: "Use built-in sample data instead of a Google account."}

var analysisFlags = []cli.Flag{
	&cli.StringFlag{Name: "gemini-api-key", EnvVars: []string{"GEMINI_API_KEY"}, Usage: "API key for the summarization model."},
	&cli.StringFlag{Name: "gemini-model", EnvVars: []string{"GEMINI_MODEL"}, Value: analysis.DefaultModel, Usage: "Summarization model name."},
}

func dashboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Load events and threads once and print them with an AI analysis as JSON.",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{Name: "no-analyze", Usage: "Skip the AI analysis."},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to this file instead of stdout."},
			&cli.BoolFlag{Name: "revoke", Usage: "Revoke the access token and remove the cached copy when done."},
			demoFlag,
		}, analysisFlags...),
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			session, orch, err := newIngest(c, logger)
			if err != nil {
				return err
			}
			if c.Bool("revoke") && session != nil {
				defer func() {
					if err := session.Logout(context.WithoutCancel(c.Context)); err != nil {
						logger.Error("Failed to revoke access token", "error", err)
					}
				}()
			}

			snap, err := orch.LoadAll(c.Context)
			if err != nil {
				return fmt.Errorf("failed to load dashboard data: %w", err)
			}

			out := struct {
				models.Snapshot
				Analysis *models.LifeAnalysis `json:"analysis,omitempty"`
			}{Snapshot: snap}
			if !c.Bool("no-analyze") {
				result := newAnalyzer(c, logger).Analyze(c.Context, snap.Events, snap.Threads)
				out.Analysis = &result
			}

			w, closeFn, err := openOutput(c.String("output"))
			if err != nil {
				return err
			}
			defer closeFn()
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the dashboard API and refresh it periodically.",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "listen", EnvVars: []string{"LISTEN_ADDR"}, Value: ":8080", Usage: "Address to listen on."},
			&cli.DurationFlag{Name: "refresh", EnvVars: []string{"REFRESH_INTERVAL"}, Value: 5 * time.Minute, Usage: "Time between ingestion cycles."},
			&cli.BoolFlag{Name: "no-analyze", Usage: "Disable the analysis route."},
			demoFlag,
		}, analysisFlags...),
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			_, orch, err := newIngest(c, logger)
			if err != nil {
				return err
			}

			var summarizer dashboard.Summarizer
			if !c.Bool("no-analyze") {
				summarizer = newAnalyzer(c, logger)
			}
			srv := &http.Server{
				Addr:              c.String("listen"),
				Handler:           dashboard.NewServer(logger, orch, summarizer).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go orch.Run(c.Context, c.Duration("refresh"), nil)
			go func() {
				<-c.Context.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info("Serving dashboard API.", "addr", srv.Addr, "refresh", c.Duration("refresh"))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dashboard server failed: %w", err)
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write upcoming events to an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Value: "lifeos.ics", Usage: "Output .ics file, - for stdout."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			loc, err := loadLocation(c.String("timezone"))
			if err != nil {
				return err
			}
			_, services, err := connect(c, logger)
			if err != nil {
				return err
			}

			events, err := google.NewCalendarClient(logger, services).UpcomingEvents(c.Context)
			if err != nil {
				return fmt.Errorf("failed to fetch calendar events: %w", err)
			}

			file := c.String("file")
			if file == "-" {
				file = ""
			}
			w, closeFn, err := openOutput(file)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := caldav.EncodeCalendar(w, events, loc); err != nil {
				return err
			}
			logger.Info("Exported events.", "count", len(events), "file", c.String("file"))
			return nil
		},
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish upcoming events to a CalDAV calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "caldav-url", EnvVars: []string{"CALDAV_URL"}, Value: "https://caldav.icloud.com/", Usage: "CalDAV server endpoint."},
			&cli.StringFlag{Name: "caldav-username", EnvVars: []string{"CALDAV_USERNAME"}},
			&cli.StringFlag{Name: "caldav-password", EnvVars: []string{"CALDAV_PASSWORD"}, Usage: "Password or app-specific password."},
			&cli.StringFlag{Name: "caldav-calendar", EnvVars: []string{"CALDAV_CALENDAR_NAME"}, Usage: "Display name of the target calendar."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be published without making changes."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}
			loc, err := loadLocation(c.String("timezone"))
			if err != nil {
				return err
			}

			publisher, err := caldav.NewPublisher(c.Context, logger, caldav.Config{
				Endpoint:     c.String("caldav-url"),
				Username:     c.String("caldav-username"),
				Password:     c.String("caldav-password"),
				CalendarName: c.String("caldav-calendar"),
				Location:     loc,
				DryRun:       c.Bool("dry-run"),
			})
			if err != nil {
				return fmt.Errorf("failed to create caldav publisher: %w", err)
			}

			_, services, err := connect(c, logger)
			if err != nil {
				return err
			}
			events, err := google.NewCalendarClient(logger, services).UpcomingEvents(c.Context)
			if err != nil {
				return fmt.Errorf("failed to fetch calendar events: %w", err)
			}
			return publisher.Publish(c.Context, events)
		},
	}
}

// newIngest builds the orchestrator over the demo data or over a connected
// Google session. The session is nil in demo mode.
func newIngest(c *cli.Context, logger *slog.Logger) (*google.Session, *ingest.Orchestrator, error) {
	if c.Bool("demo") {
		loc, err := loadLocation(c.String("timezone"))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using demo data, Google will not be contacted.")
		src := demo.New(loc)
		return nil, ingest.New(logger, src, src, ingest.Options{}), nil
	}
	session, services, err := connect(c, logger)
	if err != nil {
		return nil, nil, err
	}
	return session, newOrchestrator(logger, services), nil
}

// connect initializes the session, restores the cached token if there is a
// usable one and runs the consent flow otherwise.
func connect(c *cli.Context, logger *slog.Logger) (*google.Session, *google.Services, error) {
	services := google.NewServices()
	loader := &google.Libraries{
		Services:        services,
		ClientSecret:    c.String("client-secret"),
		CredentialsFile: c.String("credentials"),
		Logger:          logger,
	}
	opts := google.InitOptions{Timeout: c.Duration("init-timeout")}
	if path := c.String("token-cache"); path != "" {
		opts.Store = google.TokenCache{Path: path}
	}
	session := google.NewSession(logger, loader, opts)

	clientID := c.String("client-id")
	if clientID == "" {
		return nil, nil, errors.New("GOOGLE_CLIENT_ID is not set")
	}
	if err := session.Initialize(c.Context, clientID); err != nil {
		logger.Error("Initialization failed", "error", err)
	}
	if !session.Restore() {
		if err := session.RequestLogin(c.Context); err != nil {
			return nil, nil, fmt.Errorf("login failed: %w", err)
		}
	}
	if !session.Authenticated() {
		return nil, nil, fmt.Errorf("access was not granted (session is %s)", session.State())
	}
	return session, services, nil
}

func newOrchestrator(logger *slog.Logger, services *google.Services) *ingest.Orchestrator {
	return ingest.New(logger,
		google.NewCalendarClient(logger, services),
		google.NewMailClient(logger, services),
		ingest.Options{})
}

func newAnalyzer(c *cli.Context, logger *slog.Logger) *analysis.Analyzer {
	key := c.String("gemini-api-key")
	if key == "" {
		logger.Warn("GEMINI_API_KEY is not set, analysis will use the fallback result")
		return analysis.NewAnalyzer(logger, nil)
	}
	gen, err := analysis.NewGemini(c.Context, analysis.GeminiConfig{APIKey: key, Model: c.String("gemini-model")})
	if err != nil {
		logger.Error("Failed to create summarization client", "error", err)
		return analysis.NewAnalyzer(logger, nil)
	}
	return analysis.NewAnalyzer(logger, gen)
}

func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", name, err)
	}
	return loc, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
