package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/document"
	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/metrics"
	"github.com/roach88/galed/internal/store"
)

// session is one command's view of a project: the documents loaded into an
// engine, plus the journal and metrics that record what the command did.
//
// Lifecycle: openSession → engine calls → commit (mutating commands) → close.
type session struct {
	opts    *RootOptions
	out     *OutputFormatter
	command string

	project *document.Project
	engine  *engine.Engine
	journal *store.Store // nil when the journal is disabled
	metrics *metrics.Metrics

	// diags are the document problems found while loading. Documents with
	// problems are skipped, so mutating commands refuse to run over them.
	diags []document.Diagnostic
}

func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	s := &session{
		opts:    opts,
		out:     newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()),
		command: commandName(cmd),
		metrics: metrics.New(),
	}
	if opts.Root == "" {
		return nil, commandError(ExitCommandError, ErrCodeNoProject, "%v", document.ErrNoProject)
	}

	project, err := document.Open(opts.Root)
	if err != nil {
		var d document.Diagnostic
		if errors.As(err, &d) {
			return nil, commandError(ExitCommandError, ErrCodeDocuments, "%v", d)
		}
		return nil, WrapExitError(ExitCommandError, "open project", err)
	}
	s.project = project

	rs, err := project.Rules()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load rules", err)
	}
	if errs := rs.Validate(); len(errs) > 0 {
		return nil, WrapExitError(ExitCommandError, "invalid rules", errors.Join(errs...))
	}

	contents, diags, err := project.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load project", err)
	}
	s.diags = diags
	s.out.VerboseLog("Loaded %d requirement(s) and %d proposal(s) from %s",
		len(contents.Requirements), len(contents.Proposals), project.Root)

	var head int64
	if opts.Config.Journal.Enabled {
		j, err := store.Open(project.Path(document.JournalFile))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open journal", err)
		}
		s.journal = j
		if head, _, err = j.Head(cmd.Context()); err != nil {
			s.close()
			return nil, WrapExitError(ExitCommandError, "read journal head", err)
		}
	}

	cfg := opts.Config
	eng, err := engine.Load(contents.Requirements, contents.Proposals,
		engine.WithRules(rs),
		engine.WithLogger(opts.Logger),
		engine.WithNow(opts.Now),
		engine.WithClock(engine.NewClockAt(head)),
		engine.WithReopenOnReject(cfg.Engine.ReopenOnReject),
		engine.WithImpactOnDirectWrite(cfg.Engine.ImpactOnDirectWrite),
	)
	if err != nil {
		s.close()
		return nil, WrapExitError(ExitCommandError, "load engine", err)
	}
	s.engine = eng
	return s, nil
}

// commandName is the command path below the root, e.g. "review clear".
func commandName(cmd *cobra.Command) string {
	return strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")
}

// mutable refuses to mutate a project whose documents did not all load;
// saving would otherwise drop the requirements that were skipped.
func (s *session) mutable() error {
	if len(s.diags) == 0 {
		return nil
	}
	return commandError(ExitFailure, ErrCodeDocuments,
		"project has %d document problem(s); run 'galed validate' and fix them first", len(s.diags))
}

// author is the identity the command acts as.
func (s *session) author() (ir.Author, error) {
	a := s.opts.Config.Authority().Author
	if a.ID == "" {
		return ir.Author{}, commandError(ExitCommandError, ErrCodeNoAuthor,
			"no author: pass --author or set GALED_AUTHOR_ID")
	}
	return a, nil
}

// authority is the capability presented when resolving proposals or
// changing locks.
func (s *session) authority() (ir.Authority, error) {
	if _, err := s.author(); err != nil {
		return ir.Authority{}, err
	}
	return s.opts.Config.Authority(), nil
}

// commit persists everything the engine committed since the session
// opened: documents first, then one journal batch, then metrics.
func (s *session) commit(ctx context.Context) error {
	events := s.engine.DrainEvents()
	if len(events) == 0 {
		return nil
	}

	reqs, props := s.engine.Snapshot()
	if err := s.project.Save(&document.Contents{Requirements: reqs, Proposals: props}); err != nil {
		return WrapExitError(ExitCommandError, "save project", err)
	}

	if s.journal != nil {
		actor := s.opts.Config.Authority().Author
		batch := store.NewBatch(s.opts.IDs, s.command, actor, s.opts.Now())
		if err := s.journal.Append(ctx, batch, events); err != nil {
			return WrapExitError(ExitCommandError, "append journal", err)
		}
		s.out.VerboseLog("Journaled %d event(s) in batch %s", len(events), batch.ID)
	}

	s.metrics.Observe(events)
	return nil
}

// close writes the metrics textfile, if configured, and closes the journal.
func (s *session) close() error {
	var errs []error
	if s.engine != nil {
		if path := s.opts.Config.Metrics.Textfile; path != "" {
			s.metrics.SetStore(s.engine.Status(), len(s.engine.Requirements()))
			if err := s.metrics.WriteTextfile(path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
		s.journal = nil
	}
	return errors.Join(errs...)
}

// run opens a session, runs fn, commits and closes. Any error is written
// through the formatter before it is returned.
func run(opts *RootOptions, cmd *cobra.Command, fn func(s *session) (any, error)) error {
	out := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	s, err := openSession(opts, cmd)
	if err != nil {
		return out.Fail(err)
	}

	result, err := fn(s)
	if err == nil {
		err = s.commit(cmd.Context())
	}
	if cerr := s.close(); err == nil && cerr != nil {
		err = WrapExitError(ExitCommandError, "close", cerr)
	}
	if err != nil {
		return out.Fail(err)
	}
	return out.Success(result)
}

// mutate is run for commands that change the project.
func mutate(opts *RootOptions, cmd *cobra.Command, fn func(s *session, actor ir.Author) (any, error)) error {
	return run(opts, cmd, func(s *session) (any, error) {
		if err := s.mutable(); err != nil {
			return nil, err
		}
		actor, err := s.author()
		if err != nil {
			return nil, err
		}
		return fn(s, actor)
	})
}
