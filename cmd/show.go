package main

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/verifier/internal/config"
)

var showCmd = &cobra.Command{
	Use:   "show <message-id>",
	Short: "Print the stored verification for a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return eris.Errorf("invalid message id %q", args[0])
		}

		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stored, err := st.GetVerification(ctx, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return eris.Errorf("no verification stored for message %d", id)
		}
		return writeJSON(cmd.OutOrStdout(), stored)
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
