package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nickigann03/ai-secretary/internal/api"
	"github.com/nickigann03/ai-secretary/internal/auth"
)

const shutdownTimeout = 15 * time.Second

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the processing pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := deps.NewApp(ctx, deps.Config, deps.Log)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Pipeline.Start(ctx)
			go purgeTokens(ctx, a.Auth, deps.Config.BasicConfig.SweepEvery(), deps.Log)
			go func() {
				if err := a.Exporter.Watch(ctx); err != nil {
					deps.Log.Warn().Err(err).Msg("template watcher stopped")
				}
			}()

			if deps.Config.Log.JSON {
				gin.SetMode(gin.ReleaseMode)
			}
			router := gin.New()
			router.Use(gin.Recovery(), api.RequestLogger(deps.Log))
			api.NewHandler(api.Deps{
				Users:    a.Users,
				Auth:     a.Auth,
				Meetings: a.Meetings,
				Intake:   a.Intake,
				Agenda:   a.Agenda,
				Exporter: a.Exporter,
				Pipeline: a.Pipeline,
				Probe:    a.Probe,
				Blobs:    a.Blobs,
				Metrics:  a.Metrics,
				Log:      deps.Log,
			}).RegisterRoutes(router)

			if addr == "" {
				addr = deps.Config.BasicConfig.ServerAddress
			}
			srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				deps.Log.Info().Str("addr", addr).Str("database", deps.Config.BasicConfig.DatabaseType).Msg("server listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			deps.Log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to basic_config.server_address)")
	return cmd
}

// purgeTokens drops expired login tokens on the sweep interval.
func purgeTokens(ctx context.Context, svc *auth.Service, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("purge expired tokens")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired tokens removed")
			}
		}
	}
}
