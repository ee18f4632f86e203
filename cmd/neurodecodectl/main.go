package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"neurodecode/internal/storage"
	"neurodecode/internal/training"
	"neurodecode/pkg/neurodecode"
)

const timestampLayout = "2006-01-02 15:04:05"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd(out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type globalOptions struct {
	storeKind  string
	dbPath     string
	modelPath  string
	exportsDir string
	verbose    bool
}

func (g *globalOptions) client() (*neurodecode.Client, error) {
	logger := log.New(io.Discard, "", 0)
	if g.verbose {
		logger = log.New(os.Stderr, "neurodecode: ", log.LstdFlags)
	}
	return neurodecode.New(neurodecode.Options{
		StoreKind:  g.storeKind,
		DBPath:     g.dbPath,
		ModelPath:  g.modelPath,
		ExportsDir: g.exportsDir,
		Logger:     logger,
	})
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "neurodecodectl",
		Short:         "Train and interpret EEG/MEG decoding models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	pf := root.PersistentFlags()
	pf.StringVar(&g.storeKind, "store", storage.DefaultStoreKind(), "result store backend: file|memory|sqlite")
	pf.StringVar(&g.dbPath, "db-path", "neurodecode.db", "sqlite database path")
	pf.StringVar(&g.modelPath, "model-path", "models", "directory for run logs and archives")
	pf.StringVar(&g.exportsDir, "exports-dir", "exports", "directory for exported artifacts")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log training progress to stderr")

	root.AddCommand(
		newInitCmd(g),
		newRunCmd(g),
		newRunsCmd(g),
		newResultsCmd(g),
		newShowCmd(g),
		newExportCmd(g),
	)
	return root
}

func newInitCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the result store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized store=%s model_path=%s\n", g.storeKind, g.modelPath)
			return nil
		},
	}
}

func newRunCmd(g *globalOptions) *cobra.Command {
	var (
		values     neurodecode.RunRequest
		configPath string
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train the LF-CNN and save the aggregate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := values
			if configPath != "" {
				if err := applyConfig(configPath, &req); err != nil {
					return err
				}
				overrideFromFlags(&req, cmd.Flags(), values)
			}
			w := cmd.OutOrStdout()
			if !quiet && isTerminal(os.Stdout) {
				req.OnEpoch = func(p neurodecode.EpochProgress) {
					fmt.Fprintf(w, "fold %d epoch %d: train_loss=%.4f val_loss=%.4f val_metric=%.4f\n",
						p.Fold, p.Epoch+1, p.TrainLoss, p.ValLoss, p.ValMetric)
				}
			}

			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()
			summary, err := client.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "run_id=%s key=%s mode=%s folds=%d trials=%s\n",
				summary.RunID, summary.Key, summary.Mode, len(summary.Folds), humanize.Comma(int64(req.Trials)))
			printScores(w, summary)
			fmt.Fprintf(w, "log=%s archive=%s elapsed=%s\n",
				summary.LogPath, humanize.Bytes(uint64(summary.ArchiveBytes)), summary.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "JSON run config; explicit flags override it")
	f.BoolVarP(&quiet, "quiet", "q", false, "suppress per-epoch progress")

	f.StringVar(&values.Mode, "mode", "single_fold", "training mode: single_fold|cv|loso")
	f.StringVar(&values.DataID, "data-id", "synthetic", "dataset identifier")
	f.StringVar(&values.TablePath, "table", "", "CSV trial table; synthetic data is generated when empty")
	f.IntVar(&values.Trials, "trials", 200, "number of synthetic trials")
	f.IntVar(&values.NSeq, "n-seq", 1, "sequence length per trial")
	f.IntVar(&values.NT, "n-t", 100, "time samples per segment")
	f.IntVar(&values.NCh, "n-ch", 0, "sensor channels; 0 means 8 for synthetic data and inferred for tables")
	f.Float64Var(&values.FS, "fs", 100, "sampling rate in Hz")
	f.IntVar(&values.Classes, "classes", 2, "number of classes; 0 for a continuous target")
	f.IntVar(&values.Subjects, "subjects", 1, "number of subjects")
	f.Float64Var(&values.Noise, "noise", 0.5, "sensor noise standard deviation")
	f.IntVar(&values.Folds, "folds", 5, "cross-validation folds")
	f.IntVar(&values.TrainBatch, "train-batch", 50, "training batch size")

	f.StringVar(&values.Scope, "scope", "lfcnn", "architecture scope")
	f.IntVar(&values.NLatent, "n-latent", 32, "latent components")
	f.IntVar(&values.FilterLength, "filter-length", 7, "temporal filter length")
	f.IntVar(&values.Pooling, "pooling", 2, "pooling window")
	f.IntVar(&values.Stride, "stride", 2, "pooling stride")
	f.StringVar(&values.PoolType, "pool-type", "max", "pooling type: max|avg")
	f.StringVar(&values.Padding, "padding", "same", "convolution padding: same|valid")
	f.StringVar(&values.Nonlin, "nonlin", "relu", "latent nonlinearity")
	f.Float64Var(&values.L1, "l1", 3e-4, "L1 penalty")
	f.Float64Var(&values.L2, "l2", 0, "L2 penalty")
	f.Float64Var(&values.Dropout, "dropout", 0, "dropout rate")
	f.Float64Var(&values.LearnRate, "learn-rate", 3e-4, "Adam learning rate")

	f.IntVar(&values.Epochs, "epochs", 10, "maximum epochs per fold")
	f.IntVar(&values.StepsPerEpoch, "steps", 0, "optimizer steps per epoch; 0 covers the training set once")
	f.IntVar(&values.Patience, "patience", training.DefaultPatience, "early stopping patience; negative disables")
	f.Float64Var(&values.MinDelta, "min-delta", training.DefaultMinDelta, "minimum validation loss improvement; negative for none")
	f.Float64SliceVar(&values.ClassWeight, "class-weight", nil, "per-class loss weights")
	f.BoolVar(&values.Patterns, "patterns", true, "collect spatial patterns per fold")
	f.StringVar(&values.PatternOutput, "output", "patterns", "pattern output: patterns|filters")
	f.StringSliceVar(&values.SortModes, "sort-modes", nil, "extra ranking heuristics to record")
	f.IntVar(&values.NComp, "n-comp", 1, "components selected per output unit")
	f.Int64Var(&values.Seed, "seed", 1, "random seed")
	return cmd
}

func newRunsCmd(g *globalOptions) *cobra.Command {
	var (
		scope string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List logged runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()
			runs, err := client.Runs(cmd.Context(), neurodecode.RunsRequest{Scope: scope, Limit: limit})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tWHEN\tDATA\tMODE\tLOSS\tMETRIC")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%s=%.4f\n",
					r.RunID, when(r.Timestamp), r.DataID, r.Mode, r.LossMean, r.Metric, r.MetricMean)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "lfcnn", "architecture scope")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func newResultsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "List stored aggregates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()
			results, err := client.Results(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tRUN ID\tMODE\tFOLDS\tSIZE")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Key, r.RunID, r.Mode, r.Folds, humanize.Bytes(uint64(r.Bytes)))
			}
			return w.Flush()
		},
	}
}

func newShowCmd(g *globalOptions) *cobra.Command {
	var (
		req    neurodecode.ShowRequest
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Restore a saved aggregate and print its metrics and selections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()
			summary, err := client.Show(cmd.Context(), req)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printSummary(w, summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Scope, "scope", "lfcnn", "architecture scope")
	cmd.Flags().StringVar(&req.DataID, "data-id", "", "dataset identifier")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func newExportCmd(g *globalOptions) *cobra.Command {
	var req neurodecode.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a saved aggregate as JSON and CSV files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()
			exported, err := client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported key=%s dir=%s\n", exported.Key, exported.Directory)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Scope, "scope", "lfcnn", "architecture scope")
	cmd.Flags().StringVar(&req.DataID, "data-id", "", "dataset identifier")
	cmd.Flags().StringVar(&req.OutDir, "out", "", "output directory; defaults to --exports-dir")
	return cmd
}

func printScores(w io.Writer, s neurodecode.RunSummary) {
	metric := s.MetricName
	if metric == "" {
		metric = "metric"
	}
	fmt.Fprintf(w, "loss=%.4f±%.4f %s=%.4f±%.4f\n", s.LossMean, s.LossStd, metric, s.MetricMean, s.MetricStd)
	if len(s.Regression) > 0 {
		fmt.Fprintf(w, "cc=%.4f r2=%.4f cs=%.4f bias=%.4f pve=%.4f\n",
			s.Regression["cc"], s.Regression["r2"], s.Regression["cs"], s.Regression["bias"], s.Regression["pve"])
	}
}

func printSummary(w io.Writer, s neurodecode.RunSummary) {
	fmt.Fprintf(w, "run_id=%s key=%s mode=%s archive=%s\n", s.RunID, s.Key, s.Mode, humanize.Bytes(uint64(s.ArchiveBytes)))
	printScores(w, s)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLD\tEPOCHS\tLOSS\tMETRIC\tCV LOSS\tCV METRIC")
	for _, f := range s.Folds {
		fmt.Fprintf(tw, "%d\t%d\t%.4f\t%.4f\t%.4f\t%.4f\n", f.Fold, f.Epochs, f.Loss, f.Metric, f.CVLoss, f.CVMetric)
	}
	_ = tw.Flush()

	if len(s.Confusion) > 0 {
		fmt.Fprintln(w, "confusion (rows predicted, columns true):")
		for _, row := range s.Confusion {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = fmt.Sprintf("%6.0f", v)
			}
			fmt.Fprintln(w, strings.Join(cells, " "))
		}
	}
	for _, f := range s.Folds {
		for _, mode := range sortedKeys(f.TopComponents) {
			fmt.Fprintf(w, "fold %d %s: %v\n", f.Fold, mode, f.TopComponents[mode])
		}
	}
	for _, name := range s.StackNames() {
		fmt.Fprintf(w, "stack %s %v\n", name, s.Stacks[name])
	}
}

func sortedKeys(m map[string][][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func when(ts string) string {
	t, err := time.ParseInLocation(timestampLayout, ts, time.Local)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
