package cli

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/document"
)

// watchDebounce is how long changes accumulate before re-validating.
const watchDebounce = 200 * time.Millisecond

// projectFiles are the .galed files, besides requirement documents, whose
// changes trigger re-validation.
var projectFiles = map[string]bool{
	document.ProjectFile:     true,
	document.ConfigFile:      true,
	document.RulesFile:       true,
	document.ProposalLogFile: true,
}

func runValidateWatch(opts *RootOptions, cmd *cobra.Command, target string) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if opts.Root == "" {
		return formatter.Fail(commandError(ExitCommandError, ErrCodeNoProject, "%v", document.ErrNoProject))
	}

	w, err := newProjectWatcher(opts.Root, opts.Logger)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "watch project", err))
	}
	defer w.Close()

	validate := func() {
		result, err := validateTarget(opts, cmd, target)
		if err != nil {
			_ = formatter.Fail(err)
			return
		}
		// An invalid project is reported and watching continues.
		_ = outputValidation(formatter, result)
	}

	validate()
	w.Run(cmd.Context(), validate)
	return nil
}

// projectWatcher watches a project's .galed tree for document changes.
type projectWatcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

func newProjectWatcher(root string, logger *slog.Logger) (*projectWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &projectWatcher{fsw: fsw, logger: logger}
	if err := w.addRecursive(filepath.Join(root, document.DirName)); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *projectWatcher) Close() error {
	return w.fsw.Close()
}

// addRecursive watches dir and every directory below it.
func (w *projectWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.logger.Debug("watching directory", "path", path)
		return nil
	})
}

// Run calls onChange once per burst of relevant changes until ctx is done.
func (w *projectWatcher) Run(ctx context.Context, onChange func()) {
	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					pending = true
					continue
				}
			}
			if relevant(event.Name) {
				w.logger.Debug("document changed", "path", event.Name, "op", event.Op.String())
				pending = true
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case <-ticker.C:
			if pending {
				pending = false
				onChange()
			}
		}
	}
}

// relevant reports whether a change to path can affect validation.
// Journal writes and editor temp files are ignored.
func relevant(path string) bool {
	return filepath.Ext(path) == ".gal" || projectFiles[filepath.Base(path)]
}
