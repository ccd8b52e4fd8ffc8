// Command wsipseudo pseudonymizes and de-pseudonymizes whole-slide image
// manifests, wiring the Identity Registry, Escrow Store, Label Renderer,
// and Strip Codec behind two cobra subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/slidevault/wsipseudo/internal/config"
	"github.com/slidevault/wsipseudo/internal/escrow"
	"github.com/slidevault/wsipseudo/internal/label"
	"github.com/slidevault/wsipseudo/internal/manifest"
	"github.com/slidevault/wsipseudo/internal/pseudonymize"
	"github.com/slidevault/wsipseudo/internal/registry/sqlitestore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Default()
	var debug bool
	var manifestPath string

	root := &cobra.Command{
		Use:   "wsipseudo",
		Short: "pseudonymize and de-pseudonymize whole-slide image manifests",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cfg.Validate()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&manifestPath, "manifest", "", "path to the input manifest JSON file")
	flags.StringVar(&cfg.EscrowDir, "escrow-dir", cfg.EscrowDir, "directory escrowed blobs are written under")
	flags.StringVar(&cfg.RegistryDSN, "registry-dsn", cfg.RegistryDSN, "identity registry sqlite DSN")
	flags.IntVar(&cfg.GapYearMin, "gap-year-min", cfg.GapYearMin, "minimum per-invocation date-shift in years")
	flags.IntVar(&cfg.GapYearMax, "gap-year-max", cfg.GapYearMax, "maximum per-invocation date-shift in years")
	flags.StringVar(&cfg.CloneSuffixFormat, "clone-suffix-format", cfg.CloneSuffixFormat, "collision suffix format for clone/restore destinations")
	flags.IntVar(&cfg.Parallelism, "parallelism", cfg.Parallelism, "number of slides to process concurrently within a case/study (0 or 1: sequential)")
	flags.BoolVar(&debug, "debug", false, "verbose development logging")
	root.MarkPersistentFlagRequired("manifest")

	root.AddCommand(newPseudonymizeCommand(&cfg, &manifestPath, &debug))
	root.AddCommand(newDePseudonymizeCommand(&cfg, &manifestPath, &debug))
	return root
}

func newPseudonymizeCommand(cfg *config.Config, manifestPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "pseudonymize",
		Short: "replace real identifiers, dates, and labels with pseudonymous equivalents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl, closeFn, err := buildController(*cfg, *debug)
			if err != nil {
				return err
			}
			defer closeFn()

			in, err := readManifest(*manifestPath)
			if err != nil {
				return err
			}
			out, err := ctrl.Pseudonymize(cmd.Context(), in)
			if err != nil {
				return err
			}
			return writeManifest(cmd, out)
		},
	}
}

func newDePseudonymizeCommand(cfg *config.Config, manifestPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "depseudonymize",
		Short: "restore real labels and identifiers from escrow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl, closeFn, err := buildController(*cfg, *debug)
			if err != nil {
				return err
			}
			defer closeFn()

			in, err := readManifest(*manifestPath)
			if err != nil {
				return err
			}
			out, err := ctrl.DePseudonymize(cmd.Context(), in)
			if err != nil {
				return err
			}
			return writeManifest(cmd, out)
		},
	}
}

func buildController(cfg config.Config, debug bool) (*pseudonymize.Controller, func(), error) {
	logger, err := newLogger(debug)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := sqlitestore.Open(cfg.RegistryDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open registry: %w", err)
	}

	esc, err := escrow.New(cfg.EscrowDir, cfg.StoreFileNameSize)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open escrow store: %w", err)
	}

	renderer := label.NewRenderer(label.BasicFontSet{})
	ctrl := pseudonymize.New(db, esc, renderer, cfg, manifest.NoopValidator{}, logger)
	return ctrl, func() { db.Close(); logger.Sync() }, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func readManifest(path string) (manifest.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest.Input{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return manifest.Parse(data)
}

func writeManifest(cmd *cobra.Command, out manifest.Output) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output manifest: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
