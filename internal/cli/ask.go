package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
)

// consoleSender prints replies instead of delivering them to a channel.
type consoleSender struct {
	out io.Writer
}

func (c consoleSender) Send(_ context.Context, _ string, _ domain.ChannelKind, _ string, text string) error {
	_, err := fmt.Fprintf(c.out, "bot> %s\n", text)
	return err
}

func newAskCmd() *cobra.Command {
	var (
		owner        string
		counterparty string
		showSource   bool
		interactive  bool
	)

	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: "Send a message through an owner's reply pipeline and print the answer",
		Long: `Runs one customer message through menus, catalog retrieval and the language
models exactly as a live channel would, printing the reply to stdout.
With --interactive, every line read from stdin is a message.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !interactive && len(args) == 0 {
				return fmt.Errorf("provide a message or use --interactive")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			hookMgr := hooks.NewManager(log)
			if showSource {
				hookMgr.On(hooks.EventReplySent, "ask.source", func(_ context.Context, p hooks.Payload) error {
					_, err := fmt.Fprintf(out, "     (source: %v)\n", p.Data["source"])
					return err
				})
			}
			hookMgr.On(hooks.EventMessageDropped, "ask.dropped", func(_ context.Context, p hooks.Payload) error {
				_, err := fmt.Fprintf(out, "     (dropped: %v)\n", p.Data["reason"])
				return err
			})

			eng, err := openEngine(ctx, cfg, paths.DatabasePath(cfg.Store), hookMgr, log)
			if err != nil {
				return err
			}
			defer eng.Close()

			disp := eng.dispatcher(consoleSender{out: out}, false)
			send := func(text string) {
				disp.HandleInbound(ctx, domain.InboundMessage{
					ID:           uuid.NewString(),
					Owner:        owner,
					Channel:      domain.ChannelWebChat,
					Counterparty: counterparty,
					Text:         text,
					Timestamp:    time.Now(),
				})
			}

			if !interactive {
				send(strings.Join(args, " "))
				return nil
			}

			fmt.Fprintf(out, "Chatting as %q with %s. Ctrl-D to quit.\n", counterparty, owner)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "you> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				if line := strings.TrimSpace(scanner.Text()); line != "" {
					send(line)
				}
			}
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "merchant whose catalog and settings answer")
	cmd.Flags().StringVar(&counterparty, "counterparty", "console", "customer identity for history and context")
	cmd.Flags().BoolVar(&showSource, "show-source", false, "print which stage produced each reply")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read messages from stdin")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
