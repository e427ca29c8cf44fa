// Package cli implements the authctl command line.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/client"
	"github.com/spec-kit/dualauth/internal/config"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/session"
)

var version = "dev"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(os.Stdin, os.Stdout)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type globals struct {
	host      string
	statePath string
	timeout   time.Duration
	output    string
	verbose   bool
	session   config.SessionConfig

	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	g := &globals{in: in, out: out, session: config.LoadSession()}

	rootCmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Sign in to the customer and staff domains",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("DUALAUTH_HOST"); v != "" {
					g.host = v
				}
			}
			if !cmd.Flags().Changed("state") {
				if v := os.Getenv("DUALAUTH_STATE"); v != "" {
					g.statePath = v
				}
			}
			return nil
		},
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVar(&g.host, "host", "http://localhost:8080", "auth API base URL")
	rootCmd.PersistentFlags().StringVar(&g.statePath, "state", client.DefaultStatePath(), "session state file")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log session activity")

	rootCmd.AddCommand(
		newLoginCmd(g),
		newStatusCmd(g),
		newLogoutCmd(g),
		newWatchCmd(g),
		newDevCmd(g),
	)
	return rootCmd
}

// newClient builds a client whose sessions use the server supplied idle and
// hard timeouts and the given check interval. The domain defaults cap
// sessions stored before the server sent a hard timeout.
func (g *globals) newClient(interval time.Duration, onLogout func(domain.Domain, error)) *client.Client {
	logger := zap.NewNop()
	if g.verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}
	opts := client.Options{
		Sessions: map[domain.Domain]session.Options{
			domain.DomainCustomer: g.sessionOptions(domain.DomainCustomer, interval),
			domain.DomainStaff:    g.sessionOptions(domain.DomainStaff, interval),
		},
		OnLogout: onLogout,
	}
	return client.New(client.NewTransport(g.host, g.timeout), client.NewSlotStore(g.statePath), opts, logger)
}

func (g *globals) sessionOptions(d domain.Domain, interval time.Duration) session.Options {
	return session.Options{
		HardTimeout:   domain.DefaultHardSessionTimeout(d),
		LowWater:      g.session.LowWater(),
		CheckInterval: interval,
	}
}

func (g *globals) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), g.timeout)
}

func (g *globals) print(v any, text func(w io.Writer)) error {
	if g.output == "json" {
		enc := json.NewEncoder(g.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(g.out)
	return nil
}

func parseDomainArg(arg string) (domain.Domain, error) {
	d, err := domain.ParseDomain(arg)
	if err != nil {
		return "", fmt.Errorf("%w (want customer or staff)", err)
	}
	return d, nil
}
