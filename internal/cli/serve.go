package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/minhvu-dev/subsweep/internal/api"
	"github.com/minhvu-dev/subsweep/internal/bootstrap"
	"github.com/minhvu-dev/subsweep/internal/config"
	log "github.com/minhvu-dev/subsweep/internal/logging"
	"github.com/minhvu-dev/subsweep/internal/usage"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the management API server",
	Long: `Start the management HTTP server. It exposes fleet status, usage
statistics, and manual reset endpoints, watches the credentials file for
changes, and periodically backs up rotation state when a backup store is
configured.`,
	RunE: func(c *cobra.Command, args []string) error {
		res, err := bootstrap.Bootstrap(cfgFile)
		if err != nil {
			return err
		}
		cfg := res.Config
		if servePort != 0 {
			cfg.API.Port = servePort
		}

		initUsageBackend(cfg)
		defer func() {
			if err := usage.Stop(); err != nil {
				log.Warnf("usage shutdown: %v", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fleet, err := bootstrap.OpenFleet(ctx, cfg)
		if err != nil {
			return err
		}

		reload := func() error {
			seeds, err := config.LoadCredentials(cfg.CredentialsFile)
			if err != nil {
				return err
			}
			return fleet.Store.Reload(seeds)
		}

		server := api.New(cfg.API, fleet.Store, fleet.Scheduler, usage.GetSink(), reload)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.Run(gctx)
		})
		g.Go(func() error {
			err := config.Watch(gctx, cfg.CredentialsFile, func() {
				if err := reload(); err != nil {
					log.Warnf("credentials reload failed: %v", err)
				}
			})
			if err != nil && gctx.Err() != nil {
				return nil
			}
			return err
		})
		if fleet.Backup != nil {
			g.Go(func() error {
				ticker := time.NewTicker(15 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-ticker.C:
						if err := fleet.Backup.Upload(gctx); err != nil {
							log.Warnf("state backup failed: %v", err)
						}
					}
				}
			})
		}

		if err := g.Wait(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
