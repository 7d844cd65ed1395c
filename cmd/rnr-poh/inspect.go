package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/LICODX/rnr-poh/pkg/config"
	"github.com/LICODX/rnr-poh/pkg/hash"
	"github.com/LICODX/rnr-poh/pkg/logging"
	"github.com/LICODX/rnr-poh/pkg/metronome"
	"github.com/LICODX/rnr-poh/pkg/node"
	"github.com/LICODX/rnr-poh/pkg/worker"
	"github.com/LICODX/rnr-poh/poh"
)

var errVerifyFailed = errors.New("verification failed")

func newVerifyCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify a recorded chain",
		Long: `Verify checks hash continuity and timestamp plausibility of newline
delimited JSON records. Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().String("schedule", "production", "schedule the chain was produced with")
	cmd.Flags().Uint8("algorithm", hash.DefaultAlgorithm.Byte(), "hash algorithm (0 sha256, 1 blake3)")
	cmd.Flags().Bool("skip-timestamps", false, "only check hash continuity")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := load(cmd, map[string]string{
			"poh.schedule":  "schedule",
			"poh.algorithm": "algorithm",
		})
		if err != nil {
			return err
		}
		records, err := readRecords(cmd, args[0])
		if err != nil {
			return err
		}
		skip, _ := cmd.Flags().GetBool("skip-timestamps")
		logger := logging.NewWithSyncer(logging.WARN, false, zapcore.AddSync(cmd.ErrOrStderr()))
		return verifyRecords(cmd.OutOrStdout(), cfg, records, !skip, logger)
	}
	return cmd
}

func readRecords(cmd *cobra.Command, path string) ([]poh.Record, error) {
	if path == "-" {
		return poh.DecodeRecords(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return poh.DecodeRecords(f)
}

func verifyRecords(w io.Writer, cfg config.Config, records []poh.Record, timestamps bool, logger *zap.Logger) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: no records", errVerifyFailed)
	}
	v := poh.NewVerifier(cfg.Algorithm(), cfg.Schedule())

	first, last := records[0], records[len(records)-1]
	events := 0
	for _, rec := range records {
		if rec.HasEvent() {
			events++
		}
	}
	fmt.Fprintf(w, "records:  %d (revs %d..%d, phases %d..%d, %d events)\n",
		len(records), first.RevIndex, last.RevIndex, first.PhaseIndex, last.PhaseIndex, events)

	if !v.VerifySequence(records) {
		fmt.Fprintln(w, "sequence: INVALID")
		return fmt.Errorf("%w: hash chain does not verify", errVerifyFailed)
	}
	fmt.Fprintln(w, "sequence: ok")

	if !timestamps {
		return nil
	}
	if !v.VerifyTimestamps(records, logger) {
		fmt.Fprintln(w, "timing:   INVALID")
		return fmt.Errorf("%w: timestamps outside the drift window", errVerifyFailed)
	}
	fmt.Fprintln(w, "timing:   ok")
	return nil
}

func newGenerateCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Produce records and write them as JSON lines",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Uint64P("count", "n", metronome.RevsPerPhase, "number of revs to produce")
	cmd.Flags().StringP("output", "o", "-", "output file, - for stdout")
	cmd.Flags().Uint64("event-every", 0, "embed an event every N revs")
	cmd.Flags().String("schedule", "production", "timing schedule")
	cmd.Flags().Uint8("algorithm", hash.DefaultAlgorithm.Byte(), "hash algorithm (0 sha256, 1 blake3)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := load(cmd, map[string]string{
			"poh.schedule":  "schedule",
			"poh.algorithm": "algorithm",
		})
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetUint64("count")
		every, _ := cmd.Flags().GetUint64("event-every")
		output, _ := cmd.Flags().GetString("output")
		if count == 0 {
			return fmt.Errorf("count must be positive")
		}

		out := cmd.OutOrStdout()
		if output != "-" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return generate(cmd.Context(), out, cfg, count, every)
	}
	return cmd
}

// generate runs a node without networking for count revs and streams its
// batches to w.
func generate(ctx context.Context, w io.Writer, cfg config.Config, count, every uint64) error {
	seed, err := cfg.SeedBytes()
	if err != nil {
		return err
	}
	wc, err := cfg.WorkerConfig()
	if err != nil {
		return err
	}

	ncfg := node.DefaultConfig()
	ncfg.PoH = poh.Config{
		Algorithm:     cfg.Algorithm(),
		Schedule:      cfg.Schedule(),
		SpinThreshold: cfg.PoH.SpinThreshold,
	}
	ncfg.Seed = seed
	ncfg.Worker = wc
	ncfg.MaxRevs = count
	if every > 0 {
		ncfg.Events = func(rev uint64) ([]byte, bool) {
			if rev%every != 0 {
				return nil, false
			}
			return []byte(fmt.Sprintf("event-%d", rev)), true
		}
	}

	var writeErr error
	ncfg.OnBatch = func(batch []poh.Record) {
		if writeErr == nil {
			writeErr = poh.EncodeRecords(w, batch)
		}
	}

	n, err := node.New(ncfg)
	if err != nil {
		return err
	}
	if err := n.Run(ctx); err != nil {
		return err
	}
	return writeErr
}

type benchResult struct {
	Algorithm hash.Algorithm
	Hashes    uint64
	Elapsed   time.Duration
}

func (r benchResult) Rate() float64 {
	return float64(r.Hashes) / r.Elapsed.Seconds()
}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure sequential hash throughput per algorithm",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Uint64P("hashes", "n", metronome.HashesPerSecond, "hashes per algorithm")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		n, _ := cmd.Flags().GetUint64("hashes")
		if n == 0 {
			return fmt.Errorf("hashes must be positive")
		}
		results, err := bench(n, []hash.Algorithm{hash.SHA256, hash.BLAKE3})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ALGORITHM\tHASHES\tELAPSED\tRATE (H/s)\tTARGET")
		for _, r := range results {
			verdict := "ok"
			if r.Rate() < metronome.HashesPerSecond {
				verdict = "below target"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%.0f\t%s\n",
				r.Algorithm, r.Hashes, r.Elapsed.Round(time.Millisecond), r.Rate(), verdict)
		}
		return tw.Flush()
	}
	return cmd
}

// bench hashes on a locked worker thread, one algorithm at a time.
func bench(n uint64, algorithms []hash.Algorithm) ([]benchResult, error) {
	pool, err := worker.DefaultPool("bench", 1, zap.NewNop())
	if err != nil {
		return nil, err
	}
	defer func() { _ = pool.Shutdown() }()

	results := make([]benchResult, 0, len(algorithms))
	for _, alg := range algorithms {
		h := hash.NewHasher(alg)
		r, err := worker.ExecuteWait(pool, func() (benchResult, error) {
			start := time.Now()
			h.ComputeHashes(n)
			return benchResult{Algorithm: alg, Hashes: n, Elapsed: time.Since(start)}, nil
		})
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
