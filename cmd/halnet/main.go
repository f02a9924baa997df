// Command halnet serves an endlessly generated encyclopedia website, creating
// each page with a language model the first time it is requested.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/halnet/credentials"
	"github.com/wolfeidau/halnet/generate"
	"github.com/wolfeidau/halnet/ledger"
	"github.com/wolfeidau/halnet/prompt"
	"github.com/wolfeidau/halnet/server"
	"github.com/wolfeidau/halnet/site"
	"github.com/wolfeidau/halnet/store"
	"github.com/wolfeidau/halnet/telemetry"
)

var version = "dev"

type CLI struct {
	Port      int    `help:"Port to listen on." env:"PORT" default:"3000"`
	AdminAddr string `help:"Address for /health and /metrics; disabled when empty." env:"HALNET_ADMIN_ADDR" default:":9090"`
	LogLevel  string `help:"Log level." env:"LOG_LEVEL" enum:"debug,info,warn,error" default:"info"`
	LogFormat string `help:"Log format." env:"LOG_FORMAT" enum:"text,json" default:"text"`

	Provider         string        `help:"Generation provider." env:"HALNET_PROVIDER" enum:"openrouter,anthropic,gemini" default:"openrouter"`
	Model            string        `help:"Model override for the provider." env:"AI_MODEL"`
	ProviderURL      string        `help:"Provider endpoint override." env:"HALNET_PROVIDER_URL"`
	MaxTokens        int           `help:"Maximum tokens per generation." env:"HALNET_MAX_TOKENS" default:"4000"`
	GenTimeout       time.Duration `name:"generation-timeout" help:"Timeout for a single generation." env:"HALNET_GENERATION_TIMEOUT" default:"30s"`
	OpenRouterAPIKey string        `name:"openrouter-api-key" help:"OpenRouter API key." env:"OPENROUTER_API_KEY"`
	AnthropicAPIKey  string        `help:"Anthropic API key." env:"ANTHROPIC_API_KEY"`
	GeminiAPIKey     string        `help:"Gemini API key." env:"GEMINI_API_KEY"`
	CredentialsFile  string        `help:"Credentials template file; overrides keys from the environment." env:"HALNET_CREDENTIALS_FILE" type:"path"`
	OnePassword      bool          `name:"1password" help:"Enable the op template function for the credentials file." env:"HALNET_1PASSWORD"`

	RedisURL      string        `name:"redis-url" help:"Cache connection string (redis://, rediss:// or memory://)." env:"REDIS_URL" default:"redis://localhost:6379"`
	CachePrefix   string        `help:"Cache key prefix." env:"HALNET_CACHE_PREFIX" default:"halnet:"`
	CacheTTL      time.Duration `name:"cache-ttl" help:"Cache entry TTL, 0 keeps entries forever." env:"HALNET_CACHE_TTL" default:"0s"`
	CacheTimeout  time.Duration `help:"Timeout for a single cache operation." env:"HALNET_CACHE_TIMEOUT" default:"5s"`
	CacheCompress bool          `help:"Compress large cache values." env:"HALNET_CACHE_COMPRESS" default:"true" negatable:""`
	LedgerPath    string        `help:"Durable visited-path ledger file; disabled when empty." env:"HALNET_LEDGER_PATH" type:"path"`
	LinkAudit     bool          `help:"Log generated links that break the page hierarchy." env:"HALNET_LINK_AUDIT"`

	SiteDomain string `help:"Host name used to theme generated content." env:"HALNET_SITE_DOMAIN"`

	OTLPEndpoint string `name:"otlp-endpoint" help:"OTLP gRPC metrics endpoint." env:"HALNET_OTLP_ENDPOINT"`
	Prometheus   bool   `help:"Expose Prometheus metrics on /metrics." env:"HALNET_PROMETHEUS" default:"true" negatable:""`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("halnet"),
		kong.Description("AI generated encyclopedia website server."),
		kong.Vars{"version": version},
	)

	if err := run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var cfgErr *generate.ConfigurationError
		if errors.As(err, &cfgErr) {
			kctx.Exit(2)
		}
		kctx.Exit(1)
	}
}

func run(cli *CLI) error {
	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "halnet",
		ServiceVersion:   version,
		OTLPEndpoint:     cli.OTLPEndpoint,
		EnablePrometheus: cli.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	apiKey, baseURL, redisURL, err := resolveSecrets(ctx, cli, logger)
	if err != nil {
		return err
	}

	gen, err := generate.New(ctx, generate.Config{
		Provider:  cli.Provider,
		APIKey:    apiKey,
		Model:     cli.Model,
		BaseURL:   baseURL,
		MaxTokens: cli.MaxTokens,
		Timeout:   cli.GenTimeout,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}

	st, err := store.Open(ctx, redisURL,
		store.WithOpTimeout(cli.CacheTimeout),
		store.WithCompression(cli.CacheCompress),
		store.WithInstrumentation(true),
		store.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer st.Close()

	siteOpts := []site.Option{
		site.WithLogger(logger),
		site.WithPrefix(cli.CachePrefix),
		site.WithTTL(cli.CacheTTL),
		site.WithLinkAudit(cli.LinkAudit),
		site.WithPromptBuilder(prompt.New(
			prompt.WithMaxTokens(cli.MaxTokens),
			prompt.WithSiteDomain(cli.SiteDomain),
		)),
	}

	if cli.LedgerPath != "" {
		l, err := ledger.Open(cli.LedgerPath, ledger.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer l.Close()
		n, err := l.Count(ctx)
		if err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}
		logger.Info("ledger opened", "path", cli.LedgerPath, "visited", n)
		siteOpts = append(siteOpts, site.WithLedger(l))
	}

	srv, err := server.New(server.Config{
		Address:      fmt.Sprintf(":%d", cli.Port),
		AdminAddress: cli.AdminAddr,
		Site:         site.NewHandler(st, gen, siteOpts...),
		// Must outlast a generation plus the cache write.
		WriteTimeout: cli.GenTimeout + cli.CacheTimeout + 30*time.Second,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"admin_address", cli.AdminAddr,
		"provider", gen.Name(),
		"model", gen.Model(),
		"cache", redactURL(redisURL),
		"ledger", cli.LedgerPath != "",
	)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// resolveSecrets picks the provider credential and cache URL, preferring the
// credentials file over the environment.
func resolveSecrets(ctx context.Context, cli *CLI, logger *slog.Logger) (apiKey, baseURL, redisURL string, err error) {
	switch cli.Provider {
	case generate.ProviderAnthropic:
		apiKey = cli.AnthropicAPIKey
	case generate.ProviderGemini:
		apiKey = cli.GeminiAPIKey
	default:
		apiKey = cli.OpenRouterAPIKey
	}
	baseURL = cli.ProviderURL
	redisURL = cli.RedisURL

	if cli.CredentialsFile == "" {
		return apiKey, baseURL, redisURL, nil
	}

	opts := []credentials.ResolverOption{credentials.WithLogger(logger)}
	if cli.OnePassword {
		opts = append(opts, credentials.WithOnePassword())
	}
	creds, err := credentials.NewResolver(opts...).ResolveFile(ctx, cli.CredentialsFile)
	if err != nil {
		return "", "", "", fmt.Errorf("resolving credentials: %w", err)
	}

	if pc, ok := creds.Provider(cli.Provider); ok {
		apiKey = pc.APIKey
		if pc.BaseURL != "" && baseURL == "" {
			baseURL = pc.BaseURL
		}
	}
	if creds.CacheURL != "" {
		redisURL = creds.CacheURL
	}
	return apiKey, baseURL, redisURL, nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	switch format {
	case "text":
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

// redactURL hides any password in a connection string before logging.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
