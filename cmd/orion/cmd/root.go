package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmcleod/orion/internal/config"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var clientCfg = config.ClientFromEnv()

var rootCmd = &cobra.Command{
	Use:   "orion",
	Short: "Orion manages user accounts behind a cookie session",
	Long: `Orion is an account service and its command-line client.

Run "orion server" to start the service, then "orion register" and
"orion login" to open a session. The session is kept in a cookie file so
later commands such as "orion users list" reuse it, renewing the access
token transparently when it expires.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if cli != nil {
		if perr := cli.persist(); perr != nil && err == nil {
			err = perr
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&clientCfg.APIURL, "api-url", clientCfg.APIURL, "Base URL of the account service")
	pf.StringVar(&clientCfg.CookieFile, "cookie-file", clientCfg.CookieFile, "Where the session cookies are kept")
	pf.StringVar(&clientCfg.LogLevel, "log-level", clientCfg.LogLevel, "Log level (debug, info, warn, error)")
	pf.DurationVar(&clientCfg.RefreshTimeout, "refresh-timeout", clientCfg.RefreshTimeout, "Upper bound for one session refresh (0 disables)")
}
