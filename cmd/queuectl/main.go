package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lyzr/queueboard/common/clients"
	"github.com/lyzr/queueboard/common/logger"
)

// options shared by every subcommand. Flags win over QUEUECTL_* env vars.
type options struct {
	server   string
	token    string
	username string
	password string
	timeout  time.Duration
	logLevel string
}

func main() {
	v := viper.New()
	v.SetEnvPrefix("QUEUECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "Spreadsheet import/export and live board for the queue server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "queue server base URL")
	flags.String("token", "", "bearer token")
	flags.String("username", "", "login user when no token is given")
	flags.String("password", "", "login password")
	flags.Duration("timeout", 15*time.Second, "HTTP request timeout")
	flags.String("log-level", "warn", "log level")
	_ = v.BindPFlags(flags)

	load := func() options {
		return options{
			server:   v.GetString("server"),
			token:    v.GetString("token"),
			username: v.GetString("username"),
			password: v.GetString("password"),
			timeout:  v.GetDuration("timeout"),
			logLevel: v.GetString("log-level"),
		}
	}

	rootCmd.AddCommand(importCmd(load))
	rootCmd.AddCommand(exportCmd(load))
	rootCmd.AddCommand(statsCmd(load))
	rootCmd.AddCommand(watchCmd(load))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// connect builds the API client and logs in when only credentials were given
func connect(ctx context.Context, opts options) (*clients.QueueClient, *logger.Logger, error) {
	log := logger.NewWithWriter(os.Stderr, opts.logLevel, "text")
	api := clients.NewQueueClient(clients.Config{
		BaseURL:    opts.server,
		Token:      opts.token,
		Timeout:    opts.timeout,
		RetryCount: 2,
	}, log)

	if opts.token == "" && opts.username != "" {
		if _, err := api.Login(ctx, opts.username, opts.password); err != nil {
			return nil, nil, fmt.Errorf("login failed: %w", err)
		}
	}
	return api, log, nil
}
