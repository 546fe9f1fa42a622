package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	cfgpkg "github.com/KaramelBytes/gemdash-cli/internal/config"
	"github.com/KaramelBytes/gemdash-cli/internal/render"
	"github.com/KaramelBytes/gemdash-cli/internal/service"
	"github.com/KaramelBytes/gemdash-cli/internal/session"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
	// HTTP flags (override config if set)
	flagServiceURL     string
	flagHTTPTimeoutSec int
	flagOutputDir      string

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "gemdash",
	Short: "gemdash CLI: explore and model a gemstone dataset through the analysis service",
	Long: `gemdash drives a remote gemstone analysis service. Upload a diamonds workbook,
then browse its preview, plots, price predictions and PCA/K-Means clustering from an
interactive shell, or produce everything at once with the report command.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	cobra.OnInitialize(loadConfig)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.gemdash/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagServiceURL, "service-url", "", "analysis service base URL (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flagOutputDir, "out", "o", "", "directory for charts, tables and downloads (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: config show/set still work and report the problem
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c

	// Apply CLI overrides if provided
	f := rootCmd.PersistentFlags()
	if f.Changed("service-url") && flagServiceURL != "" {
		if err := cfg.Set("service_url", flagServiceURL); err != nil {
			fmt.Fprintf(os.Stderr, "⚠ Warning: ignoring --service-url: %v\n", err)
		}
	}
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("out") && flagOutputDir != "" {
		cfg.OutputDir = flagOutputDir
	}
}

// requireConfig returns the loaded configuration or the reason it is missing.
func requireConfig() (*cfgpkg.Global, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

func newLogger(w io.Writer, c *cfgpkg.Global) *slog.Logger {
	level := c.Level()
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newClient(c *cfgpkg.Global, logger *slog.Logger) *service.Client {
	return service.NewClient(c.ServiceURL, time.Duration(c.HTTPTimeoutSec)*time.Second, logger)
}

// initialSelection seeds a session with the configured model and preview size.
func initialSelection(c *cfgpkg.Global) (*session.Selection, error) {
	sel := session.DefaultSelection()
	m, err := service.ParseModelType(c.DefaultModel)
	if err != nil {
		return nil, err
	}
	sel.Model = m
	if c.PreviewRows > 0 {
		sel.PreviewRows = c.PreviewRows
	}
	return &sel, nil
}

func newPresenter(out io.Writer, c *cfgpkg.Global) (*presenter, error) {
	tf, err := render.ParseTableFormat(c.TableFormat)
	if err != nil {
		return nil, err
	}
	cf, err := render.ParseChartFormat(c.ChartFormat)
	if err != nil {
		return nil, err
	}
	return &presenter{
		out:    out,
		dir:    c.OutputDir,
		tables: tf,
		charts: render.NewChartRenderer(cf),
	}, nil
}
