package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/coffersTech/iotrace/internal/config"
	"github.com/coffersTech/iotrace/internal/export"
	"github.com/coffersTech/iotrace/internal/storage"
)

func runCat(args []string, _ config.Config, _ *zap.Logger) error {
	fs := pflag.NewFlagSet("cat", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("no artifact given")
	}

	for _, path := range fs.Args() {
		ar, err := storage.OpenArtifact(path)
		if err != nil {
			return err
		}
		for ar.Next() {
			f := ar.Record().Fields()
			fmt.Println(strings.Join(f[:], "\t"))
		}
		err = ar.Err()
		ar.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func runExport(args []string, _ config.Config, logger *zap.Logger) error {
	fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
	out := fs.StringP("out", "o", "-", "output file, or directory with --combine")
	combine := fs.Bool("combine", false, "merge each process's artifacts in PATH into <out>/<pid>.json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("no artifact given")
	}

	if *combine {
		if *out == "-" {
			return errors.New("--combine needs --out DIR")
		}
		if err := os.MkdirAll(*out, 0755); err != nil {
			return err
		}
		combined, err := export.Combine(fs.Arg(0))
		if err != nil {
			return err
		}
		for pid, entries := range combined {
			dest := filepath.Join(*out, pid+".json")
			if err := writeEntries(dest, entries); err != nil {
				return err
			}
			logger.Info("combined file created", zap.String("path", dest), zap.Int("entries", len(entries)))
		}
		return nil
	}

	entries, err := export.Artifacts(fs.Args())
	if err != nil {
		return err
	}
	if *out == "-" {
		return export.WriteJSON(os.Stdout, entries)
	}
	return writeEntries(*out, entries)
}

func writeEntries(path string, entries []export.Entry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return export.WriteJSON(f, entries)
}

func runPrune(args []string, cfg config.Config, logger *zap.Logger) error {
	fs := pflag.NewFlagSet("prune", pflag.ContinueOnError)
	dir := fs.String("dir", cfg.BaseDir, "artifact directory")
	retention := fs.Duration("retention", 168*time.Hour, "delete artifacts not modified for this long")
	if err := fs.Parse(args); err != nil {
		return err
	}

	removed, err := storage.Prune(*dir, *retention, time.Now(), logger)
	if err != nil {
		return err
	}
	for _, p := range removed {
		fmt.Println(p)
	}
	logger.Info("prune finished", zap.String("dir", *dir), zap.Int("removed", len(removed)))
	return nil
}
