package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/gateway"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/store"
	"github.com/soyeahso/concierge/internal/version"
)

func newStatusCmd() *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration, stored merchants and live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n\n", version.Info())

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Creds:    %s\n", paths.Credentials)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:   error loading: %v\n", err)
				return nil
			}
			printConfigSummary(out, cfg)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			fmt.Fprintln(out)
			printOwners(cmd.Context(), out, paths.DatabasePath(cfg.Store))

			if live {
				fmt.Fprintln(out)
				printLiveSessions(cmd.Context(), out, cfg.Gateway)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&live, "live", true, "query the running gateway for session states")
	return cmd
}

func printConfigSummary(out io.Writer, cfg config.Config) {
	auth := "none"
	if gateway.ResolveToken(cfg.Gateway.Auth) != "" {
		auth = "token"
	}
	fmt.Fprintf(out, "Gateway:  port=%d bind=%s auth=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind, auth)
	fmt.Fprintf(out, "Catalog:  source=%s cacheTTL=%s\n", cfg.Catalog.Source, cfg.Catalog.CacheTTL)

	providers := llm.NewRegistryFromConfig(cfg.LLM, log).List()
	if len(providers) > 0 {
		fmt.Fprintf(out, "LLM:      %s\n", strings.Join(providers, ", "))
	} else {
		fmt.Fprintln(out, "LLM:      (none configured, replies fall back to the merchant's message)")
	}

	var channels []string
	if tg := cfg.Channels.Telegram; tg != nil {
		channels = append(channels, fmt.Sprintf("telegram(%d token(s))", len(tg.Tokens)))
	}
	if irc := cfg.Channels.IRC; irc != nil {
		channels = append(channels, fmt.Sprintf("irc(%s tls=%v)", irc.Server, irc.UseTLS))
	}
	if wc := cfg.Channels.WebChat; wc != nil && wc.Enabled {
		channels = append(channels, "webchat")
	}
	if len(channels) == 0 {
		channels = append(channels, "(none)")
	}
	fmt.Fprintf(out, "Channels: %s\n", strings.Join(channels, ", "))
}

func printOwners(ctx context.Context, out io.Writer, dbPath string) {
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(out, "Merchants: (no database at %s)\n", dbPath)
		return
	}
	db, err := store.Open(dbPath, log)
	if err != nil {
		fmt.Fprintf(out, "Merchants: error opening database: %v\n", err)
		return
	}
	defer db.Close()

	if v, err := db.SchemaVersion(ctx); err == nil {
		fmt.Fprintf(out, "Database: %s (schema v%d)\n", dbPath, v)
	}
	owners, err := db.Owners(ctx)
	if err != nil {
		fmt.Fprintf(out, "Merchants: error: %v\n", err)
		return
	}
	if len(owners) == 0 {
		fmt.Fprintln(out, "Merchants: (none)")
		return
	}
	fmt.Fprintln(out, "Merchants:")
	for _, owner := range owners {
		n, err := db.CountMessages(ctx, owner)
		if err != nil {
			fmt.Fprintf(out, "  %s: error: %v\n", owner, err)
			continue
		}
		fmt.Fprintf(out, "  %s: %d message(s)\n", owner, n)
	}
}

// gatewayURL is the address a local client reaches the gateway on.
func gatewayURL(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	if cfg.Bind == "custom" && cfg.CustomBindHost != "" {
		host = cfg.CustomBindHost
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

func printLiveSessions(ctx context.Context, out io.Writer, cfg config.GatewayConfig) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	base := gatewayURL(cfg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/sessions", nil)
	if err != nil {
		fmt.Fprintf(out, "Sessions: %v\n", err)
		return
	}
	if token := gateway.ResolveToken(cfg.Auth); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(out, "Sessions: gateway not reachable at %s\n", base)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(out, "Sessions: gateway answered %s\n", resp.Status)
		return
	}

	var body struct {
		Sessions []domain.SessionStatus `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintf(out, "Sessions: bad response: %v\n", err)
		return
	}
	if len(body.Sessions) == 0 {
		fmt.Fprintln(out, "Sessions: (none)")
		return
	}
	fmt.Fprintln(out, "Sessions:")
	for _, s := range body.Sessions {
		line := fmt.Sprintf("  %s/%s: %s", s.Owner, s.Channel, s.State)
		if s.LastError != "" {
			line += " (" + s.LastError + ")"
		}
		fmt.Fprintln(out, line)
	}
}
