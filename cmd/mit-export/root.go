package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/mit-registry-export/pkg/cache"
	"github.com/Sternrassler/mit-registry-export/pkg/client"
	"github.com/Sternrassler/mit-registry-export/pkg/config"
	"github.com/Sternrassler/mit-registry-export/pkg/logging"
	"github.com/Sternrassler/mit-registry-export/pkg/metrics"
	"github.com/Sternrassler/mit-registry-export/pkg/pagination"
	"github.com/Sternrassler/mit-registry-export/pkg/pipeline"
	"github.com/Sternrassler/mit-registry-export/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// DefaultConfigFile is read when --config is not given.
const DefaultConfigFile = "fif_api_call.ini"

type options struct {
	configFile  string
	output      string
	logLevel    string
	logPretty   bool
	metricsAddr string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "mit-export",
		Short: "Export the MIT registry to a spreadsheet",
		Long: `mit-export reads the registry item count, walks the listing page by
page, fetches the detail record of every item and writes one row per
item to an XLSX or CSV file.

Settings come from an INI file; flags override it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.Flags().Changed("log-pretty"), stdout, stderr)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", DefaultConfigFile, "INI configuration file")
	flags.StringVarP(&opts.output, "output", "o", "", "output file, overrides mit.output_filename")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logPretty, "log-pretty", false, "human-readable log output")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")

	cmd.AddCommand(versionCmd(stdout))
	return cmd
}

// loadConfig reads the file, applies flag overrides and validates the
// combined result once.
func loadConfig(opts *options, prettySet bool) (*config.Config, error) {
	cfg, err := config.Read(opts.configFile)
	if err != nil {
		return nil, err
	}

	if opts.output != "" {
		cfg.OutputFile = opts.output
	}
	if opts.logLevel != "" {
		level, err := logging.ParseLevel(opts.logLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: --log-level: %v", config.ErrInvalidValue, err)
		}
		cfg.LogLevel = level
	}
	if prettySet {
		cfg.LogPretty = opts.logPretty
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, opts *options, prettySet bool, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts, prettySet)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: stderr,
	})

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, nil)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	cacheManager, closeCache, err := newCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	clientCfg := client.DefaultConfig(cfg.UserAgent)
	clientCfg.Timeout = cfg.Timeout
	clientCfg.Throttle = ratelimit.NewThrottle(cfg.Delay, logging.NewLogger("ratelimit"))
	clientCfg.Cache = cacheManager
	clientCfg.Logger = &logger
	c, err := client.New(clientCfg)
	if err != nil {
		return err
	}

	driverCfg := pagination.DefaultConfig(cfg.BaseURL)
	driverCfg.PageSize = cfg.PageSize
	driverCfg.Sort = cfg.Sort
	driverCfg.CountAttempts = cfg.CountAttempts
	driverCfg.Backoff = client.ExponentialBackoff(cfg.RetryBackoff, cfg.RetryBackoffMax)
	driverCfg.CacheDetails = cacheManager != nil
	driver := pagination.NewDriver(c, driverCfg)

	exp := pipeline.NewExporter(driver,
		pipeline.WithLogger(logger),
		pipeline.WithProgress(pipeline.NewConsoleProgress(stdout)),
	)

	logger.Info().
		Str("url", cfg.BaseURL).
		Str("output", cfg.OutputFile).
		Dur("delay", cfg.Delay).
		Int("attempts", cfg.CountAttempts).
		Bool("cache", cacheManager != nil).
		Msg("Starting registry export")

	result, err := exp.Run(ctx)
	if err != nil {
		if errors.Is(err, client.ErrContextCancelled) {
			logger.Warn().Msg("Export cancelled, no file written")
		}
		return err
	}
	if err := exp.Export(result, cfg.OutputFile); err != nil {
		return err
	}

	logger.Info().
		Int("rows", result.Stats.Rows).
		Int("extraction_errors", result.Stats.ExtractionErrors).
		Dur("duration", result.Stats.Duration()).
		Msg("Export finished")
	return nil
}

// newCache builds the optional response cache. It returns a nil manager
// when caching is disabled.
func newCache(ctx context.Context, cfg config.CacheConfig, logger zerolog.Logger) (*cache.Manager, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			return nil, noop, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	m, err := cache.NewManager(cache.Config{
		MemorySize: cfg.MemorySize,
		TTL:        cfg.TTL,
		Redis:      redisClient,
	})
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, noop, fmt.Errorf("create cache: %w", err)
	}

	closeFn := noop
	if redisClient != nil {
		closeFn = func() { redisClient.Close() }
	}
	return m, closeFn, nil
}
