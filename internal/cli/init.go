package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/config"
	"github.com/roach88/galed/internal/document"
	"github.com/roach88/galed/internal/ir"
)

// InitResult describes a newly created project.
type InitResult struct {
	Root string        `json:"root"`
	Meta document.Meta `json:"project"`
}

// RenderText implements TextRenderer.
func (r InitResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Initialized galed project %q (%s) in %s\n",
		r.Meta.Name, r.Meta.Domain, filepath.Join(r.Root, document.DirName))
	return err
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var name, domain string

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a galed project",
		Long: `Create a .galed project directory holding requirement documents, the
proposal log, the audit journal and an optional galed.yaml.

The project domain is the default for new requirements; every requirement
still carries its own domain tag.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Start
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(rootOpts, cmd, dir, name, ir.Domain(domain))
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "project name (default: directory name)")
	cmd.Flags().StringVar(&domain, "domain", string(ir.DomainGeneral), "default domain: clinical|aerospace|research|general")

	return cmd
}

func runInit(opts *RootOptions, cmd *cobra.Command, dir, name string, domain ir.Domain) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	root, err := filepath.Abs(dir)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "resolve path", err))
	}
	if name == "" {
		name = filepath.Base(root)
	}
	if !ir.ValidDomains[domain] {
		return formatter.Fail(commandError(ExitCommandError, ErrCodeInvalidArgs, "unknown domain %q", domain))
	}

	project, err := document.Init(root, name, domain, opts.Now())
	if errors.Is(err, document.ErrProjectExists) {
		return formatter.Fail(commandError(ExitCommandError, ErrCodeInvalidArgs, "%v", err))
	}
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "init project", err))
	}

	// Seed galed.yaml with the defaults and the identity in effect, so the
	// file documents every setting.
	cfg := config.DefaultConfig()
	cfg.Author.ID = opts.Config.Author.ID
	cfg.Author.Kind = opts.Config.Author.Kind
	if err := cfg.SaveToFile(project.Path(document.ConfigFile)); err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "write config", err))
	}

	formatter.VerboseLog("Created project %s (%s)", project.Meta.ID, project.Root)
	return formatter.Success(InitResult{Root: project.Root, Meta: project.Meta})
}
