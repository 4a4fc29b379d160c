package cli

import (
	"fmt"
	"log"

	"github.com/urfave/cli/v3"

	"github.com/tobert/cruxview/internal/crux"
	"github.com/tobert/cruxview/internal/report"
)

// apiFlags are shared by every command that talks to the CrUX API.
func apiFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to a JSON config file (default: .cruxview.json in the project, then ~/.config/cruxview/config.json)",
		},
		&cli.StringFlag{
			Name:  "api-key",
			Usage: "CrUX API key (overrides GOOGLE_API_KEY)",
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "CrUX queryRecord URL",
		},
		&cli.StringFlag{
			Name:  "form-factor",
			Usage: "PHONE, DESKTOP or TABLET",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Requests in flight per search",
		},
		&cli.StringFlag{
			Name:  "request-timeout",
			Usage: "Per-request timeout, e.g. 15s",
		},
		&cli.StringFlag{
			Name:  "locale",
			Usage: "BCP 47 locale used to collate origins and metrics",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
		},
	}
}

// resolveConfig loads the layered config and applies every flag the user set.
func resolveConfig(cmd *cli.Command) (*Config, error) {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	overlay := &Config{}
	if cmd.IsSet("api-key") {
		overlay.APIKey = cmd.String("api-key")
	}
	if cmd.IsSet("endpoint") {
		overlay.Endpoint = cmd.String("endpoint")
	}
	if cmd.IsSet("form-factor") {
		overlay.FormFactor = cmd.String("form-factor")
	}
	if cmd.IsSet("concurrency") {
		overlay.Concurrency = cmd.Int("concurrency")
	}
	if cmd.IsSet("request-timeout") {
		overlay.RequestTimeout = cmd.String("request-timeout")
	}
	if cmd.IsSet("locale") {
		overlay.Locale = cmd.String("locale")
	}
	if cmd.IsSet("verbose") {
		overlay.Verbose = cmd.Bool("verbose")
	}
	if cmd.IsSet("transport") {
		overlay.Transport = cmd.String("transport")
	}
	if cmd.IsSet("http-host") {
		overlay.HTTPHost = cmd.String("http-host")
	}
	if cmd.IsSet("http-port") {
		overlay.HTTPPort = cmd.Int("http-port")
	}
	if cmd.IsSet("allowed-origin") {
		overlay.AllowedOrigins = cmd.StringSlice("allowed-origin")
	}
	if cmd.IsSet("stateless") {
		overlay.Stateless = cmd.Bool("stateless")
	}
	if cmd.IsSet("batch-file") {
		overlay.BatchFile = cmd.String("batch-file")
	}
	if cmd.IsSet("threshold") {
		overlay.Threshold = cmd.Float("threshold")
	}

	return MergeConfigs(cfg, overlay), nil
}

// newEngine builds the view engine for the configured locale.
func newEngine(cfg *Config) (*report.Engine, error) {
	engine, err := report.NewEngineForLocale(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return engine, nil
}

// newFetcher builds a CrUX client, or returns nil when no API key is
// configured so callers can fall back to batch files.
func newFetcher(cfg *Config) (crux.Fetcher, error) {
	if cfg.APIKey == "" {
		if cfg.Verbose {
			log.Println("⚠️  No CrUX API key configured; searches are disabled")
		}
		return nil, nil
	}
	cc, err := cfg.CruxConfig()
	if err != nil {
		return nil, err
	}
	client, err := crux.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create CrUX client: %w", err)
	}
	return client, nil
}

func logConfig(cfg *Config) {
	log.Println("🔧 Configuration:")
	log.Printf("  Endpoint: %s (%s)\n", cfg.Endpoint, cfg.FormFactor)
	log.Printf("  API key: %s\n", maskKey(cfg.APIKey))
	log.Printf("  Concurrency: %d, request timeout: %s\n", cfg.Concurrency, cfg.RequestTimeout)
	log.Printf("  Locale: %s\n", cfg.Locale)
	log.Println()
}

// maskKey keeps only enough of a key to tell keys apart in logs.
func maskKey(key string) string {
	switch {
	case key == "":
		return "(none)"
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + "…" + key[len(key)-2:]
	}
}
