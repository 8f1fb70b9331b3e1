package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/dashauth"
	"github.com/MrEthical07/dashauth/token"
)

// cliConfig loads the config with renewal off: one-shot commands never hold
// a session long enough to renew it.
func cliConfig(opts *rootOptions) (dashauth.Config, error) {
	cfg, err := loadConfig(opts.v)
	if err != nil {
		return cfg, err
	}
	cfg.Renewal.Enabled = false
	return cfg, nil
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		email         string
		password      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session credentials",
		Example: `  dashauth login --email admin@example.com --password-stdin < pass.txt
  DASHAUTH_PASSWORD=secret dashauth login --email admin@example.com`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				p, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}
			if password == "" {
				password = opts.v.GetString("password")
			}

			cfg, err := cliConfig(opts)
			if err != nil {
				return err
			}
			m, err := buildManager(opts, cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			res := m.Login(cmd.Context(), email, password)
			if !res.Success {
				return errors.New(res.Error)
			}
			msg := res.Message
			if msg == "" {
				msg = dashauth.MsgWelcomeBack
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, role %s)\n", msg, res.User.Email, res.User.Role.Primary())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prefer --password-stdin or DASHAUTH_PASSWORD)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear stored credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cliConfig(opts)
			if err != nil {
				return err
			}
			m, err := buildManager(opts, cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			var res dashauth.Result
			if all {
				res = m.LogoutAll(cmd.Context())
			} else {
				res = m.Logout(cmd.Context())
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "log out from every device")
	return cmd
}

// statusView is what status prints.
type statusView struct {
	Status        dashauth.Status `json:"status" yaml:"status"`
	Authenticated bool            `json:"authenticated" yaml:"authenticated"`
	User          *dashauth.User  `json:"user,omitempty" yaml:"user,omitempty"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	Remaining     string          `json:"remaining,omitempty" yaml:"remaining,omitempty"`
	Error         string          `json:"error,omitempty" yaml:"error,omitempty"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		output string
		remote bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cliConfig(opts)
			if err != nil {
				return err
			}
			m, err := buildManager(opts, cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			view := describeSession(cmd.Context(), m, remote)
			return writeView(cmd.OutOrStdout(), output, view)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	cmd.Flags().BoolVar(&remote, "remote", false, "confirm the session with the backend")
	return cmd
}

func describeSession(ctx context.Context, m *dashauth.Manager, remote bool) statusView {
	res := m.CheckAuth(ctx)
	if remote && res.Success {
		res = m.VerifyRemote(ctx)
	}

	s := m.Session()
	view := statusView{
		Status:        s.Status,
		Authenticated: s.IsAuthenticated,
		User:          s.User,
		Error:         s.Error,
	}
	if view.Error == "" && !res.Success {
		view.Error = res.Error
	}
	if !s.IsAuthenticated {
		return view
	}
	raw, err := m.AccessToken(ctx)
	if err != nil {
		return view
	}
	if info, ok := token.Decode(raw); ok && !info.ExpiresAt.IsZero() {
		exp := info.ExpiresAt.UTC()
		view.ExpiresAt = &exp
		view.Remaining = info.Remaining(time.Now()).Round(time.Second).String()
	}
	return view
}

func writeView(w io.Writer, format string, view statusView) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("invalid output %q (must be yaml or json)", format)
}
