package main

import (
	"context"
	"encoding/json"
	"io"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/verifier/internal/config"
	"github.com/sells-group/verifier/internal/model"
)

var (
	batchInput string
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Verify every request in a file or directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reqs, err := loadRequestsFrom(batchInput)
		if err != nil {
			return err
		}

		env, err := initVerifier(ctx, config.ModeVerify)
		if err != nil {
			return err
		}
		defer env.Close()

		lines, err := processBatch(ctx, reqs, batchLimit, cfg.Batch.MaxConcurrent, env.Engine.Verify)
		if err != nil {
			return err
		}
		return writeLines(cmd.OutOrStdout(), lines)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "request file or directory of request files")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of requests to verify (0 = all)")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

// resultLine is one line of batch output.
type resultLine struct {
	MessageID int64                    `json:"message_id"`
	Result    model.VerificationResult `json:"result"`
}

// verifyFunc is the callback signature for verifying one request.
type verifyFunc func(ctx context.Context, req model.VerificationRequest) model.VerificationResult

// processBatch applies limit, then verifies requests concurrently. Results
// keep the order of reqs.
func processBatch(ctx context.Context, reqs []model.VerificationRequest, limit, concurrency int, verify verifyFunc) ([]resultLine, error) {
	if len(reqs) == 0 {
		zap.L().Info("no requests found")
		return nil, nil
	}

	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("requests", len(reqs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	lines := make([]resultLine, len(reqs))
	var lowTrust atomic.Int64

	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "batch cancelled")
			}
			res := verify(gctx, req)
			if res.TrustScore < 50 {
				lowTrust.Add(1)
			}
			lines[i] = resultLine{MessageID: req.MessageID, Result: res}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int("verified", len(lines)),
		zap.Int64("low_trust", lowTrust.Load()),
	)
	return lines, nil
}

func writeLines(w io.Writer, lines []resultLine) error {
	enc := json.NewEncoder(w)
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return eris.Wrap(err, "write output")
		}
	}
	return nil
}
