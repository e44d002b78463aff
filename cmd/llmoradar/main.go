package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gyakuten/llmoradar/internal/adapters/output"
	"github.com/gyakuten/llmoradar/internal/api"
	"github.com/gyakuten/llmoradar/internal/app"
	"github.com/gyakuten/llmoradar/internal/domain"
)

var (
	cfgFile     string
	logLevel    string
	console     bool
	listenAddr  string
	workers     int
	metricsAddr string
	rendererArg string
	verbose     bool
	jsonOut     bool

	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "llmoradar",
	Short: "LLMO diagnosis intake with abuse-resistant admission control",
	Long: `LLMORadar accepts LLMO diagnosis requests, protects the analysis
backend with per-origin and global admission control, and scores how well
a website is prepared to be read and cited by AI assistants.

Components:
  - Admission Control: rate limits, blacklist, emergency stop, risk scoring
  - Site Analysis: headless rendering and six-category scoring
  - Delivery: report mail to the requester with an internal copy`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP intake and admin API",
	Long: `Run the diagnosis intake endpoint and the security admin API.

With queue.driver=memory jobs are processed by in-process workers. With
queue.driver=rabbitmq jobs are published and a separate "worker" process
consumes them.

Examples:
  llmoradar serve
  llmoradar serve --addr :9000 --workers 8
  LLMORADAR_SERVER_ADMIN_KEY=... llmoradar serve --config ./llmoradar.yaml`,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume diagnosis jobs from RabbitMQ",
	RunE:  runWorker,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <url>",
	Short: "Analyse a single URL and print the score",
	Long: `Render and score one URL without admission control or mail delivery.

Examples:
  llmoradar analyze https://www.gyakuten.co.jp/
  llmoradar analyze https://www.gyakuten.co.jp/ --renderer http --verbose
  llmoradar analyze https://www.gyakuten.co.jp/ --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("LLMORadar %s\n", Version)
		fmt.Printf("Commit:  %s\n", Commit)
		fmt.Printf("Built:   %s\n", BuildTime)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/llmoradar.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&console, "console", false, "human-readable log output")

	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().IntVarP(&workers, "workers", "w", 0, "in-process diagnosis workers (overrides queue.workers)")
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address for /metrics and /healthz, empty disables")
	analyzeCmd.Flags().StringVar(&rendererArg, "renderer", "", "chrome or http (overrides analyzer.renderer)")
	analyzeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every sub-check")
	analyzeCmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")

	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.console", rootCmd.PersistentFlags().Lookup("console"))

	rootCmd.AddCommand(serveCmd, workerCmd, analyzeCmd, versionCmd)
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	app.SetDefaults()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("llmoradar")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/llmoradar")
	}
	app.BindEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn().Err(err).Msg("Error reading config file")
		}
	}
}

// loadConfig decodes viper state. Command flags win over file and
// environment when set.
func loadConfig() (*app.Config, error) {
	cfg, err := app.Load()
	if err != nil {
		return nil, err
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}
	if workers > 0 {
		cfg.Queue.Workers = workers
	}
	if rendererArg != "" {
		cfg.Analyzer.Renderer = rendererArg
	}
	return cfg, nil
}

func setupLogging(cfg app.LoggingConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	c, err := build(runCtx, cfg, true)
	if err != nil {
		return err
	}
	defer c.close()

	if path := viper.ConfigFileUsed(); path != "" {
		watcher := app.NewConfigWatcher(app.ConfigWatcherOptions{
			ConfigPath: path,
			Policy:     c.policy,
			OnReload:   []app.ReloadFunc{c.reloadDisposable},
		})
		watcher.StartWatching(runCtx)
		defer watcher.Stop()
	}

	jobs, err := c.startQueue(runCtx, cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Options{
		Config: api.Config{
			Addr:           cfg.Server.Addr,
			AdminKey:       cfg.Server.AdminKey,
			AdminHeader:    cfg.Server.AdminHeader,
			TrustedProxies: cfg.Server.TrustedProxies,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			RecentAlerts:   cfg.Alerts.Recent,
		},
		Diagnosis: c.service,
		Admin:     c.controller,
		Alerts:    c.recent,
		Health:    output.NewHealthChecker(jobs.status, c.storeProbe, output.DefaultHealthCheckerConfig()),
		Metrics:   c.metricsHandler(),
	})
	if cfg.Server.AdminKey == "" {
		log.Warn().Msg("server.admin_key is empty, admin endpoints are disabled")
	}

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("store", cfg.Store.Driver).
		Str("queue", cfg.Queue.Driver).
		Str("renderer", cfg.Analyzer.Renderer).
		Int64("daily_max", cfg.Admission.DailyMax).
		Msg("LLMORadar started")

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case <-sigCtx.Done():
		log.Info().Msg("Shutting down...")
	case err = <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	jobs.stop()
	cancelRun()
	log.Info().Msg("Shutdown complete")
	return err
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)
	if cfg.Queue.Driver != "rabbitmq" {
		return fmt.Errorf("worker requires queue.driver=rabbitmq, got %q", cfg.Queue.Driver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := build(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer c.close()

	q, err := c.openRabbit(cfg)
	if err != nil {
		return err
	}
	svc := c.newService(cfg, nil)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.metricsHandler())
		mux.Handle("/healthz", output.NewHealthChecker(rabbitStatus{q}, nil, output.DefaultHealthCheckerConfig()))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	log.Info().Str("queue", cfg.Queue.Name).Str("renderer", cfg.Analyzer.Renderer).Msg("Diagnosis worker started")
	return q.Consume(ctx, svc.Process)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	target := strings.TrimSpace(args[0])
	if !domain.IsWebURL(target) {
		return fmt.Errorf("not an absolute http or https URL: %q", target)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Diagnosis.AnalysisTimeout)
	defer cancel()

	res, err := newAnalyzer(cfg, false).Analyze(ctx, target)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", target, err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return output.WriteConsoleReport(os.Stdout, res, verbose)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
