package cli

import (
	"fmt"
	"maps"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/concierge/internal/config"
)

const redacted = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if !reveal {
				cfg = redactSecrets(cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets in clear text")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			issues := config.Validate(&cfg)
			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintf(out, "%s: ok\n", paths.Config)
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
			}
			return fmt.Errorf("%d validation issue(s)", len(issues))
		},
	}
}

// redactSecrets returns a copy of cfg with credentials masked.
func redactSecrets(cfg config.Config) config.Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}

	cfg.Gateway.Auth.Token = mask(cfg.Gateway.Auth.Token)
	cfg.Catalog.PostgresDSN = mask(cfg.Catalog.PostgresDSN)

	if tg := cfg.Channels.Telegram; tg != nil {
		c := *tg
		c.Tokens = make(map[string]string, len(tg.Tokens))
		for owner, token := range tg.Tokens {
			c.Tokens[owner] = mask(token)
		}
		cfg.Channels.Telegram = &c
	}
	if irc := cfg.Channels.IRC; irc != nil {
		c := *irc
		c.Password = mask(c.Password)
		cfg.Channels.IRC = &c
	}

	providers := maps.Clone(cfg.LLM.Providers)
	for name, p := range providers {
		p.APIKey = mask(p.APIKey)
		providers[name] = p
	}
	cfg.LLM.Providers = providers
	return cfg
}
