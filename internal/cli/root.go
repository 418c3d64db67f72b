package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/config"
	"github.com/roach88/galed/internal/document"
	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/store"
)

// RootOptions holds global flags for all commands, and the configuration
// resolved from them before any subcommand runs.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	Dir         string
	Author      string
	AuthorKind  string
	MetricsFile string
	NoJournal   bool

	// Resolved by PersistentPreRunE.
	Config *config.Config
	Logger *slog.Logger
	Root   string // project root; empty when no project was found
	Start  string // directory the project search began at

	// Environ replaces the process environment when non-nil.
	Environ map[string]string
	// Now stamps provenance and journal batches. Default: time.Now in UTC.
	Now func() time.Time
	// IDs generates journal batch IDs. Default: store.UUIDv7.
	IDs store.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Command annotations read by the root before a subcommand runs.
const (
	// annotationFormats lists extra --format values a command accepts,
	// comma-separated.
	annotationFormats = "galed/formats"
	// annotationPathArg marks a command whose optional positional argument
	// names the project (any path inside it), like --dir.
	annotationPathArg = "galed/path-arg"
)

// NewRootCommand creates the root command for the galed CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.IDs == nil {
		opts.IDs = store.UUIDv7{}
	}

	cmd := &cobra.Command{
		Use:   "galed",
		Short: "galed - governed requirement graph",
		Long: `Governed mutation of machine-readable requirements.

Fields carry provenance and lock state; locked fields change only through
proposals resolved by an authorized human or AI; accepted changes flag
downstream requirements for re-review.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if formats := formatsFor(cmd); !slices.Contains(formats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, formats)
			}
			return resolveConfig(opts, cmd, args)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Dir, "dir", "C", "", "project directory (default: search upward from the working directory)")
	cmd.PersistentFlags().StringVar(&opts.Author, "author", "", "author ID to act as (default: author.id from config)")
	cmd.PersistentFlags().StringVar(&opts.AuthorKind, "author-kind", "", "author kind: human|ai (default: author.kind from config)")
	cmd.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the command")
	cmd.PersistentFlags().BoolVar(&opts.NoJournal, "no-journal", false, "do not record events in the audit journal")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewGraphCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewProposeCommand(opts))
	cmd.AddCommand(NewAcceptCommand(opts))
	cmd.AddCommand(NewRejectCommand(opts))
	cmd.AddCommand(NewResubmitCommand(opts))
	cmd.AddCommand(NewWriteCommand(opts))
	cmd.AddCommand(NewLockCommand(opts))
	cmd.AddCommand(NewLinkCommand(opts))
	cmd.AddCommand(NewUnlinkCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewReviewCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))

	return cmd
}

// resolveConfig locates the project and layers its galed.yaml, GALED_*
// variables and global flags into opts.Config.
func resolveConfig(opts *RootOptions, cmd *cobra.Command, args []string) error {
	quiet := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	loader := config.NewLoader(quiet).WithEnvironment(opts.Environ)

	// The environment may name the project directory, so read it before
	// looking for the project's own config file.
	envOnly, err := loader.Load("")
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	start := opts.Dir
	if path := pathArg(cmd, args); path != "" {
		if _, err := os.Stat(path); err != nil {
			return commandError(ExitCommandError, ErrCodeInvalidArgs, "%v", err)
		}
		start = path
	}
	if start == "" {
		start = envOnly.Dir
	}
	if start == "" {
		if start, err = os.Getwd(); err != nil {
			return WrapExitError(ExitCommandError, "resolve working directory", err)
		}
	}

	opts.Root, opts.Start = "", start
	cfgPath := ""
	if root, err := document.Find(start); err == nil {
		opts.Root = root
		cfgPath = filepath.Join(root, document.DirName, document.ConfigFile)
	} else if !errors.Is(err, document.ErrNoProject) {
		return WrapExitError(ExitCommandError, "locate project", err)
	}
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("author") {
		cfg.Author.ID = opts.Author
	}
	if flags.Changed("author-kind") {
		cfg.Author.Kind = ir.AuthorKind(opts.AuthorKind)
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.Textfile = opts.MetricsFile
	}
	if opts.NoJournal {
		cfg.Journal.Enabled = false
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level, _ := cfg.Level()
	opts.Config = cfg
	opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// formatsFor returns the --format values cmd accepts.
func formatsFor(cmd *cobra.Command) []string {
	extra := cmd.Annotations[annotationFormats]
	if extra == "" {
		return ValidFormats
	}
	return append(slices.Clone(ValidFormats), strings.Split(extra, ",")...)
}

// pathArg returns the positional project path of a command that takes
// one, or "" when none was given.
func pathArg(cmd *cobra.Command, args []string) string {
	if cmd.Annotations[annotationPathArg] == "" || len(args) == 0 {
		return ""
	}
	return args[0]
}

// pathArgs marks cmd as taking an optional project path.
func pathArgs(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations[annotationPathArg] = "true"
	cmd.Args = cobra.MaximumNArgs(1)
	return cmd
}
