package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const envPassword = "TPCTL_PASSWORD"

func loginCmd(s *session) *cobra.Command {
	var (
		email     string
		tokenOnly bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print an access token for TPCTL_TOKEN",
		Long: "Sign in with email and password. The password is read from " + envPassword +
			" or, when unset, from the first line of standard input.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			client, err := s.Client()
			if err != nil {
				return err
			}
			res, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if tokenOnly {
				fmt.Fprintln(out, res.AccessToken)
				return nil
			}
			fmt.Fprintf(out, "signed in as %s (%s)\n", res.User.FullName, color.New(color.FgHiCyan).Sprint(res.User.Role))
			fmt.Fprintf(out, "access token expires in %ds\n", res.ExpiresIn)
			fmt.Fprintf(out, "export TPCTL_TOKEN=%s\n", res.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&tokenOnly, "token-only", false, "print only the access token")
	return cmd
}

func readPassword(stdin io.Reader) (string, error) {
	if password := os.Getenv(envPassword); password != "" {
		return password, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("no password: set %s or pipe it on stdin", envPassword)
	}
	return password, nil
}
