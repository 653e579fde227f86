package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/coffersTech/iotrace/internal/config"
	"github.com/coffersTech/iotrace/internal/logging"
)

const usage = `iotrace records file-system operations into per-thread artifacts.

Usage:
  iotrace exercise [flags]           run a traced synthetic workload
  iotrace cat FILE...                print the records of artifacts
  iotrace export [flags] PATH...     convert artifacts to JSON
  iotrace prune [flags]              delete expired artifacts

Configuration is read from IOTRACE_* environment variables (and .env);
flags override it. Run "iotrace COMMAND --help" for command flags.
`

type command func(args []string, cfg config.Config, logger *zap.Logger) error

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	commands := map[string]command{
		"exercise": runExercise,
		"cat":      runCat,
		"export":   runExport,
		"prune":    runPrune,
	}

	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		fmt.Print(usage)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "iotrace: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iotrace: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cmd(os.Args[2:], cfg, logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Error("command failed", zap.String("command", name), zap.Error(err))
		fmt.Fprintf(os.Stderr, "iotrace %s: %v\n", name, err)
		logger.Sync()
		os.Exit(1)
	}
}

// bindCollectorFlags registers the collector settings on fs, defaulting to
// the loaded configuration.
func bindCollectorFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.BaseDir, "dir", cfg.BaseDir, "artifact directory")
	fs.Int64Var(&cfg.Threshold, "threshold", cfg.Threshold, "buffer footprint that triggers a flush")
	fs.StringVar(&cfg.RetentionPolicy, "retention-policy", cfg.RetentionPolicy, "retain or flush the record crossing the threshold")
	fs.StringVar(&cfg.Codec, "codec", cfg.Codec, "artifact codec: text or zstd")
	fs.BoolVar(&cfg.KeepOpen, "keep-open", cfg.KeepOpen, "keep artifact handles open between flushes")
	fs.IntVar(&cfg.MaxOpenFiles, "max-open-files", cfg.MaxOpenFiles, "open handle limit with --keep-open")
}
