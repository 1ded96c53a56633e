package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/tsr-api/internal/handlers"
	"github.com/Brownie44l1/tsr-api/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prediction HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&overrides.Port, "port", "", "Listen port (default 8080, or $PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	p, rt, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	mux := http.NewServeMux()
	handlers.NewHandler(p, cfg.MaxUploadBytes).Routes(mux)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("server starting", "port", cfg.Port, "classes", p.Table().Len())
	log.Info("endpoints",
		"health", "GET /health",
		"labels", "GET /labels",
		"predict", "POST /predict",
		"predict_image", "POST /predict/image")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
