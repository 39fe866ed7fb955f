package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/verifier/internal/config"
)

var verifyInput string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify one answered message from a request file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reqs, err := loadRequests(verifyInput)
		if err != nil {
			return err
		}
		if len(reqs) != 1 {
			return eris.Errorf("verify expects exactly one request, found %d (use batch)", len(reqs))
		}

		env, err := initVerifier(ctx, config.ModeVerify)
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Engine.Verify(ctx, reqs[0])
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyInput, "input", "", "request file (YAML or JSON)")
	_ = verifyCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(verifyCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write output")
}
