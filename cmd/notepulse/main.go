package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notepulse",
		Short: "Score, rank and analyze social content by engagement",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	root.AddCommand(scoreCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

// scoreFlags are the pipeline knobs shared by score and analyze.
type scoreFlags struct {
	minCES         float64
	minWeightedCES float64
	topK           int
	topPercent     float64
	halfLife       float64
	noDecay        bool
	recencyDays    int
	types          []string
	require        []string
	exclude        []string
}

func (f *scoreFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.minCES, "min-ces", 0, "minimum raw engagement score")
	cmd.Flags().Float64Var(&f.minWeightedCES, "min-weighted-ces", 0, "minimum time-weighted score")
	cmd.Flags().IntVar(&f.topK, "top-k", 0, "keep at most K items")
	cmd.Flags().Float64Var(&f.topPercent, "top-percent", 0, "keep the top fraction (0 < p < 1)")
	cmd.Flags().Float64Var(&f.halfLife, "half-life", 48, "decay half-life in hours")
	cmd.Flags().BoolVar(&f.noDecay, "no-decay", false, "disable time decay")
	cmd.Flags().IntVar(&f.recencyDays, "recency-days", 0, "drop items older than N days")
	cmd.Flags().StringSliceVar(&f.types, "type", nil, "allowed item types (e.g. normal,video)")
	cmd.Flags().StringSliceVar(&f.require, "require", nil, "keep only items containing one of these keywords")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "drop items containing any of these keywords")
}

func scoreCmd() *cobra.Command {
	var (
		flags      scoreFlags
		feedURL    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "score [items.json]",
		Short: "Score and rank items from a JSON file or RSS feed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			return runScore(path, feedURL, flags, jsonOutput)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&feedURL, "feed", "", "score entries of an RSS/Atom feed URL")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var (
		taskID   string
		keywords string
	)

	cmd := &cobra.Command{
		Use:   "analyze <items.json>",
		Short: "Run one task through ranking, workflows and callback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(args[0], taskID, keywords)
		},
	}

	cmd.Flags().StringVar(&taskID, "task-id", "", "task id (default: random)")
	cmd.Flags().StringVar(&keywords, "keywords", "", "keywords passed to the evaluation workflow")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with background task workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon with graceful shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
