package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/middleware"
	"github.com/lyzr/queueboard/cmd/queueboard/routes"
	"github.com/lyzr/queueboard/cmd/queueboard/service"
	"github.com/lyzr/queueboard/common/bootstrap"
	"github.com/lyzr/queueboard/common/db"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/server"
)

const serviceName = "queueboard"

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Live patient queue server for ward displays",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(hashPasswordCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the queue API and broadcast hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations on start")
	return cmd
}

func migrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert the default rooms and doctors")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for AUTH_USERS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := service.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func runServer(ctx context.Context, migrate bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var opts []bootstrap.Option
	if migrate {
		opts = append(opts, bootstrap.WithDBInitHook(func(database *db.DB) error {
			_, err := database.Migrate(ctx)
			return err
		}))
	}

	// Bootstrap common components (DB, logger, queue, cache, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName, opts...)
	if err != nil {
		return fmt.Errorf("failed to bootstrap %s: %w", serviceName, err)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	c, err := container.NewContainer(components)
	if err != nil {
		return fmt.Errorf("failed to initialize service container: %w", err)
	}

	e := setupEcho()
	setupMiddleware(e, components.Logger)
	setupHealthCheck(e, components)
	registerRoutes(e, c)

	if err := c.Start(ctx); err != nil {
		return err
	}

	srv := server.New(serviceName, components.Config.Service.Port, e, components.Logger)
	srv.OnShutdown(c.Hub.Close)
	return srv.Start(ctx)
}

func runMigrate(ctx context.Context, seed bool) error {
	applied := 0
	components, err := bootstrap.Setup(ctx, serviceName,
		bootstrap.WithoutQueue(),
		bootstrap.WithoutCache(),
		bootstrap.WithoutTelemetry(),
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			n, err := database.Migrate(ctx)
			if err != nil {
				return err
			}
			applied = n
			if seed {
				return database.Seed(ctx)
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to bootstrap %s: %w", serviceName, err)
	}
	defer components.Shutdown(context.Background())

	if components.DB == nil {
		return fmt.Errorf("migrate needs STORE_BACKEND=postgres, got %q", components.Config.Service.StoreBackend)
	}
	components.Logger.Info("migrations complete", "applied", applied, "seeded", seed)
	return nil
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, log *logger.Logger) {
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestContext())
	e.Use(middleware.AccessLog(log))
}

// setupHealthCheck registers the health and metrics endpoints
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"service": serviceName,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	})

	if components.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(components.Metrics.Handler()))
	}
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterAuthRoutes(e, c)
	routes.RegisterPatientRoutes(e, c)
	routes.RegisterStaffRoutes(e, c)
	routes.RegisterAdminRoutes(e, c)
}
