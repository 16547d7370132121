package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/listenupapp/bookstream/internal/client"
	"github.com/listenupapp/bookstream/internal/config"
	"github.com/listenupapp/bookstream/internal/logger"
	"github.com/listenupapp/bookstream/internal/protocol"
	"github.com/listenupapp/bookstream/internal/transport"
)

// Output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
)

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	url      string
	codec    string
	timeout  time.Duration
	output   string
	logLevel string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "bookctl",
		Short: "Command line client for the book stream",
		Long: `bookctl talks to a book stream server over its WebSocket endpoint.

Defaults come from the same environment variables and .env file as the
server: BOOKSTREAM_URL, CODEC, RECONNECT_DELAY, READY_FALLBACK.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch flags.output {
			case outputTable, outputJSON:
				return nil
			default:
				return fmt.Errorf("invalid output format %q (must be table or json)", flags.output)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flags.url, "url", "", "Stream endpoint (default: BOOKSTREAM_URL)")
	cmd.PersistentFlags().StringVar(&flags.codec, "codec", "", "Wire codec: json or proto (default: CODEC)")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "Time to wait for an answer")
	cmd.PersistentFlags().StringVarP(&flags.output, "output", "o", outputTable, "Output format: table or json")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "error", "Client log level")

	cmd.AddCommand(
		newListCommand(flags),
		newGetCommand(flags),
		newCreateCommand(flags),
		newUpdateCommand(flags),
		newDeleteCommand(flags),
		newWatchCommand(flags),
	)

	return cmd
}

// connect builds a connection manager from the environment and flags and
// opens its stream. Callers Disconnect it.
func (f *globalFlags) connect(cmd *cobra.Command) (*client.Manager, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, err
	}

	url := cfg.Client.URL
	if f.url != "" {
		url = f.url
	}
	codecName := cfg.Client.Codec
	if f.codec != "" {
		codecName = f.codec
	}
	codec, err := protocol.CodecByName(codecName)
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{
		Writer: cmd.ErrOrStderr(),
		Level:  logger.ParseLevel(f.logLevel),
	})

	m := client.NewManager(&transport.Dialer{URL: url, Codec: codec}, client.Options{
		ReconnectDelay: cfg.Client.ReconnectDelay,
		ReadyFallback:  cfg.Client.ReadyFallback,
		MaxPending:     cfg.Client.MaxPending,
		Logger:         log.Logger,
	})
	m.Connect()
	return m, nil
}

// describe turns a timeout into something a person can act on.
func describe(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no answer within %s (is the server running?)", timeout)
	}
	return err
}
