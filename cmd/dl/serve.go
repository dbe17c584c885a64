package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deskline/internal/app"
	"deskline/internal/feed"
	"deskline/internal/server"
	"deskline/internal/session"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and /llm-command",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("DESKLINE_JWT_SECRET is required for bearer auth")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if cmd.Flags().Changed("addr") {
					cfg.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					cfg.Server.BasePath = basePath
				}
				if cfg.Server.Addr == "" {
					cfg.Server.Addr = "127.0.0.1:8080"
				}
				log := a.Logger

				var dispatcher session.Dispatcher
				if d, err := a.Dispatcher(ctx); err != nil {
					log.Warn("command dispatch disabled", zap.String("provider", cfg.Model.Provider), zap.Error(err))
				} else {
					dispatcher = d
				}

				sessions := session.NewStore(cfg.SessionTTL())
				sessions.Logger = log.Named("sessions")
				hub := feed.NewHub(a.Engine.Repo, cfg.PollInterval(), log.Named("feed"))
				hooks := feed.NewWebhooks(a.Engine.Repo, cfg.Webhooks, log.Named("webhooks"))

				handler, err := server.New(server.Config{
					Engine:      a.Engine,
					Dispatcher:  dispatcher,
					Sessions:    sessions,
					Hub:         hub,
					BasePath:    cfg.Server.BasePath,
					CORSOrigins: cfg.Server.CORSOrigins,
					Auth:        server.AuthConfig{JWTSecret: secret, Logger: log.Named("auth")},
					Logger:      log.Named("http"),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return hub.Run(gctx) })
				g.Go(func() error {
					hooks.Run(gctx)
					return nil
				})
				g.Go(func() error {
					sessions.Run(gctx, time.Minute)
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					log.Info("serving",
						zap.String("addr", cfg.Server.Addr),
						zap.String("base_path", cfg.Server.BasePath),
						zap.Int("webhooks", len(cfg.Webhooks)))
					fmt.Printf("Serving Deskline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
						cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
