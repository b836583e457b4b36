// Package main provides the NornicBatch CLI entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/orneryd/nornicbatch/pkg/batch"
	"github.com/orneryd/nornicbatch/pkg/config"
	"github.com/orneryd/nornicbatch/pkg/storage"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nornicbatch",
		Short: "NornicBatch - transactional batch scripts over a record store",
		Long: `NornicBatch runs multi-statement scripts as a unit: statements between
BEGIN and COMMIT either all take effect or none do, variables carry
results from one statement to the next, and RETURN picks the result.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: search standard locations)")
	rootCmd.PersistentFlags().String("engine", "", "Storage engine: memory, badger, pebble")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory for badger and pebble")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "NornicBatch v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	runCmd := &cobra.Command{
		Use:   "run <script>...",
		Short: "Run batch scripts",
		Long:  "Run one or more batch script files (\"-\" reads stdin). Independent scripts run concurrently.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScripts,
	}
	runCmd.Flags().StringArrayP("param", "p", nil, "Parameter as name=value (value parsed as JSON when possible)")
	runCmd.Flags().String("params", "", "JSON file with an object of parameters")
	runCmd.Flags().Int("parallel", 0, "Max scripts running at once (0 = config concurrency)")
	rootCmd.AddCommand(runCmd)

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive batch shell",
		Long:  "Read statements line by line; an empty line runs the buffered batch.",
		RunE:  runShell,
	}
	rootCmd.AddCommand(shellCmd)

	return rootCmd
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "loading config")
	}
	if v, _ := cmd.Flags().GetString("engine"); v != "" {
		cfg.Storage.Engine = strings.ToLower(v)
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openCoordinator opens the configured engine and wraps it in a coordinator.
// The caller closes the returned engine.
func openCoordinator(cfg *config.Config) (*batch.Coordinator, storage.Engine, error) {
	logger := storage.NewStdLogger("nornicbatch", cfg.Logging.Level, cfg.Logging.Format)

	dataDir := cfg.Storage.DataDir
	if cfg.Storage.Engine == storage.EngineMemory {
		dataDir = ""
	}
	engine, err := storage.Open(storage.OpenOptions{
		Engine:     cfg.Storage.Engine,
		DataDir:    dataDir,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening storage")
	}

	opts := []batch.Option{
		batch.WithLogger(logger),
		batch.WithDefaultRetry(cfg.Batch.DefaultRetry),
		batch.WithMaxStatements(cfg.Batch.MaxStatements),
		batch.WithTimeout(cfg.Batch.Timeout),
	}
	if cfg.Batch.CacheSize > 0 {
		cache, err := batch.NewScriptCache(cfg.Batch.CacheSize)
		if err != nil {
			_ = engine.Close()
			return nil, nil, err
		}
		opts = append(opts, batch.WithCache(cache))
	}
	return batch.NewCoordinator(engine, opts...), engine, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// collectParams merges --params (file) and --param (flags); flags win.
func collectParams(cmd *cobra.Command) (map[string]any, error) {
	params := map[string]any{}
	if path, _ := cmd.Flags().GetString("params"); path != "" {
		fromFile, err := loadParamsFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			params[k] = v
		}
	}
	flags, _ := cmd.Flags().GetStringArray("param")
	for _, f := range flags {
		name, v, err := parseParamFlag(f)
		if err != nil {
			return nil, err
		}
		params[name] = v
	}
	return params, nil
}

func readScript(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", path)
	}
	return string(data), nil
}

func runScripts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	params, err := collectParams(cmd)
	if err != nil {
		return err
	}

	jobs := make([]batch.Job, 0, len(args))
	for _, path := range args {
		script, err := readScript(cmd, path)
		if err != nil {
			return err
		}
		jobs = append(jobs, batch.Job{Name: path, Script: script, Params: params})
	}

	coord, engine, err := openCoordinator(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	limit, _ := cmd.Flags().GetInt("parallel")
	if limit <= 0 {
		limit = cfg.Batch.Concurrency
	}

	ctx, cancel := signalContext()
	defer cancel()

	results := batch.RunAll(ctx, coord, jobs, limit)
	failed := 0
	out := make([]jobOutput, len(results))
	for i, r := range results {
		out[i] = newJobOutput(r.Name, r.Result, r.Err)
		if r.Err != nil {
			failed++
		}
	}
	if len(out) == 1 {
		err = writeJSON(cmd.OutOrStdout(), out[0])
	} else {
		err = writeJSON(cmd.OutOrStdout(), out)
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return errors.Newf("%d of %d scripts failed", failed, len(results))
	}
	return nil
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	coord, engine, err := openCoordinator(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := signalContext()
	defer cancel()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Connected to %s storage\n", cfg.Storage.Engine)
	fmt.Fprintln(w, "Type 'exit' or Ctrl+D to quit; an empty line runs the batch")
	fmt.Fprintln(w)
	return shellLoop(ctx, coord, cmd.InOrStdin(), w)
}

// shellLoop buffers lines until an empty one, then runs them as one batch.
func shellLoop(ctx context.Context, coord *batch.Coordinator, in io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(in)
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		script := strings.Join(buf, "\n")
		buf = buf[:0]
		res, err := coord.Run(ctx, script, nil)
		if err != nil {
			fmt.Fprintf(w, "Error (%s): %v\n", batch.KindOf(err), err)
			return
		}
		_ = writeJSON(w, renderValue(res.Value))
		fmt.Fprintf(w, "(%s, %d statement(s))\n", res.State, res.Executed)
	}

	for ctx.Err() == nil {
		if len(buf) == 0 {
			fmt.Fprint(w, "nornicbatch> ")
		} else {
			fmt.Fprint(w, "        ...> ")
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" && len(buf) > 0:
			flush()
			fmt.Fprintln(w)
		case trimmed == "":
		case len(buf) == 0 && (trimmed == "exit" || trimmed == "quit"):
			fmt.Fprintln(w, "Goodbye!")
			return nil
		default:
			buf = append(buf, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading input")
	}
	flush()
	return nil
}
