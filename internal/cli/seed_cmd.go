package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/seed"
	"github.com/soyeahso/concierge/internal/store"
)

func newSeedCmd() *cobra.Command {
	var (
		owner   string
		replace bool
		check   bool
	)

	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load a merchant's settings, catalog and menus from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			if check {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			db, err := store.Open(paths.DatabasePath(cfg.Store), log)
			if err != nil {
				return err
			}
			defer db.Close()

			sum, err := seed.Apply(cmd.Context(), db, owner, fx, replace)
			if err != nil {
				return err
			}
			log.Info().Str("owner", owner).Str("file", args[0]).Msg("seeded")
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", owner, sum)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "merchant to seed")
	cmd.Flags().BoolVar(&replace, "replace", false, "clear the owner's existing catalog first")
	cmd.Flags().BoolVar(&check, "check", false, "validate the file without writing")
	cmd.MarkFlagsOneRequired("owner", "check")

	return cmd
}
