// Package cli implements the tpctl command tree on top of pkg/tpclient.
package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/pkg/tpclient"
)

const (
	keyBaseURL = "base_url"
	keyToken   = "token"
	keyTimeout = "timeout"
	keyNoColor = "no_color"
)

// session lazily builds the API client from flags and TPCTL_* variables.
type session struct {
	v      *viper.Viper
	client *tpclient.Client
}

func (s *session) Client() (*tpclient.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	baseURL := s.v.GetString(keyBaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("no API address configured: pass --base-url or set TPCTL_BASE_URL")
	}
	client, err := tpclient.New(tpclient.Config{
		BaseURL:    baseURL,
		Token:      s.v.GetString(keyToken),
		HTTPClient: &http.Client{Timeout: s.v.GetDuration(keyTimeout)},
		Logger:     zap.NewNop(),
	})
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

// NewRootCmd assembles the tpctl command tree.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TPCTL")
	v.AutomaticEnv()
	v.SetDefault(keyTimeout, 30*time.Second)
	s := &session{v: v}

	root := &cobra.Command{
		Use:           "tpctl",
		Short:         "Review lesson plans and run observations from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if v.GetBool(keyNoColor) {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("base-url", "", "API address including the prefix, e.g. http://localhost:8080/api/v1 (TPCTL_BASE_URL)")
	flags.String("token", "", "bearer token (TPCTL_TOKEN)")
	flags.Duration("timeout", 30*time.Second, "per-request timeout (TPCTL_TIMEOUT)")
	flags.Bool("no-color", false, "disable colored output")
	_ = v.BindPFlag(keyBaseURL, flags.Lookup("base-url"))
	_ = v.BindPFlag(keyToken, flags.Lookup("token"))
	_ = v.BindPFlag(keyTimeout, flags.Lookup("timeout"))
	_ = v.BindPFlag(keyNoColor, flags.Lookup("no-color"))

	root.AddCommand(loginCmd(s))
	root.AddCommand(verifyCmd(s))
	root.AddCommand(plansCmd(s))
	root.AddCommand(observationsCmd(s))
	root.AddCommand(reportsCmd(s))
	return root
}

func verifyCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Show the role and identifier of the current token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			res, err := client.Verify(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "role: %s\nidentifier: %s\n", color.New(color.FgHiCyan).Sprint(res.Role), res.Identifier)
			return nil
		},
	}
}
