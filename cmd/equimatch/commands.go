package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feldkamp/equimatch/internal/tabular"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var recordsPath, catalogPath, observationsPath, outPath, format string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute all pipeline stages on a fresh run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, appOptions{embedder: true, catalogPath: catalogPath})
			if err != nil {
				return err
			}
			defer a.close()

			records, err := tabular.LoadRecords(recordsPath)
			if err != nil {
				return err
			}
			observations, err := tabular.LoadObservations(observationsPath)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			result, err := a.pl.Run(ctx, records, observations)
			if err != nil {
				return err
			}

			w, err := tabular.NewReportWriter(outPath, format)
			if err != nil {
				return err
			}
			if err := w.Write(result.Suggestions); err != nil {
				return err
			}
			a.log.Info("report written",
				zap.String("path", outPath),
				zap.Int("suggestions", len(result.Suggestions)))
			return nil
		},
	}
	cmd.Flags().StringVar(&recordsPath, "records", "", "equipment records CSV")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "reference catalog CSV")
	cmd.Flags().StringVar(&observationsPath, "observations", "", "building database CSV")
	cmd.Flags().StringVarP(&outPath, "out", "o", "suggestions.ndjson", "report file")
	cmd.Flags().StringVar(&format, "format", "ndjson", "report format: ndjson or csv")
	cmd.MarkFlagRequired("records")
	cmd.MarkFlagRequired("catalog")
	cmd.MarkFlagRequired("observations")
	return cmd
}

func newGroupCmd(cfgPath *string) *cobra.Command {
	var recordsPath string

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Collapse near-duplicate records into groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, appOptions{embedder: true})
			if err != nil {
				return err
			}
			defer a.close()

			records, err := tabular.LoadRecords(recordsPath)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			runID, err := a.pl.EnsureRun(ctx)
			if err != nil {
				return err
			}
			groups, err := a.pl.Group(ctx, runID, records)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "run %s: %d records collapsed into %d groups\n", runID, len(records), len(groups))
			return nil
		},
	}
	cmd.Flags().StringVar(&recordsPath, "records", "", "equipment records CSV")
	cmd.MarkFlagRequired("records")
	return cmd
}

func newClassifyCmd(cfgPath *string) *cobra.Command {
	var recordsPath, catalogPath string

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Assign group representatives to catalog headings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, appOptions{embedder: true, catalogPath: catalogPath})
			if err != nil {
				return err
			}
			defer a.close()

			records, err := tabular.LoadRecords(recordsPath)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			runID, err := a.pl.EnsureRun(ctx)
			if err != nil {
				return err
			}
			assignments, err := a.pl.Classify(ctx, runID, records)
			if err != nil {
				return err
			}

			resolved := 0
			for _, as := range assignments {
				if as.Resolved() {
					resolved++
				}
			}
			fmt.Fprintf(os.Stdout, "run %s: %d of %d representatives assigned\n", runID, resolved, len(assignments))
			return nil
		},
	}
	cmd.Flags().StringVar(&recordsPath, "records", "", "equipment records CSV")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "reference catalog CSV")
	cmd.MarkFlagRequired("records")
	cmd.MarkFlagRequired("catalog")
	return cmd
}

func newAnalyzeCmd(cfgPath *string) *cobra.Command {
	var observationsPath string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute frequency and correlation tables from the building database",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			observations, err := tabular.LoadObservations(observationsPath)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			runID, err := a.pl.EnsureRun(ctx)
			if err != nil {
				return err
			}
			if err := a.pl.Analyze(ctx, runID, observations); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "run %s: statistics over %d observations stored\n", runID, len(observations))
			return nil
		},
	}
	cmd.Flags().StringVar(&observationsPath, "observations", "", "building database CSV")
	cmd.MarkFlagRequired("observations")
	return cmd
}

func newComponentsCmd(cfgPath *string) *cobra.Command {
	var observationsPath string

	cmd := &cobra.Command{
		Use:   "components",
		Short: "Resolve the system-component graph and store component suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			observations, err := tabular.LoadObservations(observationsPath)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			runID, err := a.pl.EnsureRun(ctx)
			if err != nil {
				return err
			}
			suggestions, err := a.pl.Components(ctx, runID, observations)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "run %s: %d component suggestions stored\n", runID, len(suggestions))
			return nil
		},
	}
	cmd.Flags().StringVar(&observationsPath, "observations", "", "building database CSV")
	cmd.MarkFlagRequired("observations")
	return cmd
}

func newSuggestCmd(cfgPath *string) *cobra.Command {
	var observationsPath, outPath, format string

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Derive, merge, and export suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			observations, err := tabular.LoadObservations(observationsPath)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			runID, err := a.pl.EnsureRun(ctx)
			if err != nil {
				return err
			}
			suggestions, err := a.pl.Suggest(ctx, runID, observations)
			if err != nil {
				return err
			}

			w, err := tabular.NewReportWriter(outPath, format)
			if err != nil {
				return err
			}
			if err := w.Write(suggestions); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "run %s: %d suggestions written to %s\n", runID, len(suggestions), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&observationsPath, "observations", "", "building database CSV")
	cmd.Flags().StringVarP(&outPath, "out", "o", "suggestions.ndjson", "report file")
	cmd.Flags().StringVar(&format, "format", "ndjson", "report format: ndjson or csv")
	cmd.MarkFlagRequired("observations")
	return cmd
}
