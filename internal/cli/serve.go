package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/channel"
	"github.com/soyeahso/concierge/internal/channel/irc"
	"github.com/soyeahso/concierge/internal/channel/telegram"
	"github.com/soyeahso/concierge/internal/channel/webchat"
	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/gateway"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/housekeeping"
	"github.com/soyeahso/concierge/internal/session"
)

const stopTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port     int
		bind     string
		connects []string
		autoTG   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot engine and the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			targets, err := parseTargets(connects)
			if err != nil {
				return err
			}
			if autoTG {
				targets = append(targets, telegramTargets(cfg)...)
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hookMgr := hooks.NewManager(log)
			eng, err := openEngine(ctx, cfg, paths.DatabasePath(cfg.Store), hookMgr, log)
			if err != nil {
				return err
			}
			defer eng.Close()

			channels, hub := buildChannels(cfg)
			if channels.Count() == 0 {
				log.Warn().Msg("no channels configured, only the gateway will run")
			}

			sessions := session.NewRegistry(channels, session.NewFileCredentialStore(paths.Credentials), session.Config{
				ReconnectDelay: cfg.Engine.ReconnectDelay,
				MaxReconnects:  cfg.Engine.MaxReconnects,
				ConnectTimeout: cfg.Engine.ConnectTimeout,
			}, log, session.WithHooks(hookMgr))
			sessions.SetInboundHandler(eng.dispatcher(sessions, true).HandleInbound)
			sessions.OnTeardown(eng.purge)
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				sessions.StopAll(stopCtx)
			}()

			opts := []gateway.ServerOption{gateway.WithHooks(hookMgr)}
			if hub != nil {
				opts = append(opts, gateway.WithWebChat(hub))
			}
			srv := gateway.New(cfg.Gateway, sessions, log, opts...)

			sched := housekeeping.New(cfg.Engine.SweepInterval, log)
			eng.sweeps(sched)
			sched.Add("auth-failures", srv.SweepAuthFailures)
			if err := sched.Start(); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				sched.Stop(stopCtx)
			}()

			for _, t := range targets {
				go func(t domain.SessionKey) {
					res, err := sessions.Connect(ctx, t.Owner, t.Channel)
					if err != nil {
						log.Error().Err(err).Str("session", t.String()).Msg("auto-connect failed")
						return
					}
					log.Info().Str("session", t.String()).Str("state", string(res.State)).Msg("auto-connect")
				}(t)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "gateway port (overrides config)")
	cmd.Flags().StringVar(&bind, "bind", "", "gateway bind mode: loopback, lan or custom (overrides config)")
	cmd.Flags().StringSliceVar(&connects, "connect", nil, "owner:channel session to connect at startup (repeatable)")
	cmd.Flags().BoolVar(&autoTG, "autoconnect-telegram", true, "connect every owner with a configured Telegram token")

	return cmd
}

// buildChannels registers a connector for every configured transport.
func buildChannels(cfg config.Config) (*channel.Registry, *webchat.Hub) {
	channels := channel.NewRegistry(log)
	if cfg.Channels.Telegram != nil {
		channels.Register(telegram.New(*cfg.Channels.Telegram, log))
	}
	if cfg.Channels.IRC != nil {
		channels.Register(irc.New(*cfg.Channels.IRC, log))
	}
	var hub *webchat.Hub
	if cfg.Channels.WebChat != nil && cfg.Channels.WebChat.Enabled {
		hub = webchat.New(cfg.Gateway.PublicURL, log)
		channels.Register(hub)
	}
	return channels, hub
}

// parseTargets reads "owner:channel" pairs.
func parseTargets(raw []string) ([]domain.SessionKey, error) {
	out := make([]domain.SessionKey, 0, len(raw))
	for _, r := range raw {
		owner, ch, ok := strings.Cut(r, ":")
		kind, known := domain.ParseChannelKind(ch)
		if !ok || owner == "" || !known {
			return nil, fmt.Errorf("invalid --connect %q, want owner:telegram|irc|webchat", r)
		}
		out = append(out, domain.SessionKey{Owner: owner, Channel: kind})
	}
	return out, nil
}

func telegramTargets(cfg config.Config) []domain.SessionKey {
	if cfg.Channels.Telegram == nil {
		return nil
	}
	owners := make([]string, 0, len(cfg.Channels.Telegram.Tokens))
	for owner := range cfg.Channels.Telegram.Tokens {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	out := make([]domain.SessionKey, len(owners))
	for i, owner := range owners {
		out[i] = domain.SessionKey{Owner: owner, Channel: domain.ChannelTelegram}
	}
	return out
}
