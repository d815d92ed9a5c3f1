package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jmcleod/orion/client"
	"github.com/jmcleod/orion/internal/logging"
	"github.com/jmcleod/orion/refresh"
	"github.com/jmcleod/orion/session"
)

// cliSession bundles the client, its cookie file and the session holder for
// one CLI invocation.
type cliSession struct {
	client      *client.Client
	jar         *client.FileJar
	holder      *session.Holder
	logger      zerolog.Logger
	invalidated bool
}

// cli is created on first use and persisted by Execute.
var cli *cliSession

func openSession() (*cliSession, error) {
	if cli != nil {
		return cli, nil
	}
	logger := logging.New(clientCfg.Env, clientCfg.LogLevel, os.Stderr)

	jar, err := client.OpenFileJar(clientCfg.CookieFile, clientCfg.APIURL)
	if err != nil {
		return nil, err
	}

	s := &cliSession{jar: jar, logger: logger}
	c, err := client.New(clientCfg.APIURL,
		client.WithCookieJar(jar),
		client.WithLogger(logger),
		client.WithRefreshOptions(
			refresh.WithRefreshTimeout(clientCfg.RefreshTimeout),
			refresh.WithSessionInvalidated(s.onInvalidated),
		),
	)
	if err != nil {
		return nil, err
	}
	s.client = c
	s.holder = session.NewHolder(c, session.WithLogger(logger))
	cli = s
	return s, nil
}

func (s *cliSession) onInvalidated(err error) {
	s.logger.Debug().Err(err).Msg("session invalidated")
	s.invalidated = true
	s.holder.Invalidate()
}

// persist saves the cookie file, or removes it once the session is gone.
func (s *cliSession) persist() error {
	if s.invalidated {
		return s.jar.Clear()
	}
	return s.jar.Save()
}

// requireLogin resolves the identity and refuses to run without a user.
// A refresh failure surfaces as ErrLoginRequired.
func requireLogin(cmd *cobra.Command, _ []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	err = s.holder.RefreshIdentity(cmd.Context())
	if err != nil && !errors.Is(err, refresh.ErrRefreshFailed) && !client.IsStatus(err, http.StatusUnauthorized) {
		return fmt.Errorf("contacting %s: %w", clientCfg.APIURL, err)
	}
	if session.Guard(s.holder) != session.DecisionAllow {
		return client.ErrLoginRequired
	}
	return nil
}
