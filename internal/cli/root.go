// Package cli wires configuration, the ONNX runtime and the HTTP API into
// the tsr command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/tsr-api/internal/config"
	"github.com/Brownie44l1/tsr-api/internal/labels"
	"github.com/Brownie44l1/tsr-api/internal/log"
	"github.com/Brownie44l1/tsr-api/internal/model"
	"github.com/Brownie44l1/tsr-api/internal/pipeline"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfgPath   string
	overrides config.Overrides

	// cfg is loaded in PersistentPreRunE and shared by subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "tsr",
	Short:         "Traffic sign recognition service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.ApplyOverrides(overrides)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		log.Init(cfg.LogLevel)
		return nil
	},
}

// Execute runs the root command until it returns or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config")
	rootCmd.PersistentFlags().StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&overrides.ModelPath, "model", "", "Path to the ONNX model")
	rootCmd.PersistentFlags().StringVar(&overrides.LabelsPath, "labels", "", "Path to a YAML or JSON label table")
}

// loadMetadata falls back to the stock model description when no metadata
// file exists.
func loadMetadata(path string) (model.Metadata, error) {
	if path == "" {
		return model.DefaultMetadata(), nil
	}
	meta, err := model.LoadMetadata(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("metadata file not found, using defaults", "path", path)
		return model.DefaultMetadata(), nil
	}
	return meta, err
}

// loadTable picks the label table: an explicit labels file, then the
// metadata classes, then the built-in placeholder names.
func loadTable(c *config.Config, meta model.Metadata) (*labels.Table, error) {
	if c.LabelsPath != "" {
		return labels.Load(c.LabelsPath)
	}
	tbl, err := meta.Table()
	if err != nil {
		return nil, err
	}
	if tbl == nil {
		tbl = labels.Default()
	}
	return tbl, nil
}

// openPipeline initializes the ONNX runtime and returns a pipeline that
// opens one session per inference. The caller closes the runtime.
func openPipeline(c *config.Config) (*pipeline.Pipeline, *model.Runtime, error) {
	meta, err := loadMetadata(c.MetadataPath)
	if err != nil {
		return nil, nil, err
	}
	tbl, err := loadTable(c, meta)
	if err != nil {
		return nil, nil, err
	}

	log.Info("loading model", "path", c.ModelPath, "image_size", meta.ImageSize, "layout", meta.Layout)
	rt, err := model.NewRuntime(model.Options{
		ModelPath:   c.ModelPath,
		LibraryPath: c.ORTLibrary,
		Metadata:    meta,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize model runtime: %w", err)
	}

	opener := pipeline.OpenerFunc(func() (pipeline.Classifier, error) {
		s, err := rt.Open()
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	return pipeline.New(meta.Encoder(), opener, tbl), rt, nil
}
