package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/galed/internal/document"
	"github.com/roach88/galed/internal/store"
)

// LogResult is a journal listing.
type LogResult struct {
	Events []store.Entry `json:"events"`
}

// RenderText implements TextRenderer.
func (r LogResult) RenderText(w io.Writer) error {
	var b strings.Builder
	for _, e := range r.Events {
		fmt.Fprintf(&b, "%6d  %s  %-22s %-28s %s", e.Seq, e.At.UTC().Format("2006-01-02T15:04:05Z"), e.Kind, entryLocation(e), e.Actor)
		if data, err := e.Data(); err == nil && len(data) > 0 {
			fmt.Fprintf(&b, "  %s", formatData(data))
		}
		b.WriteString("\n")
	}
	if len(r.Events) == 0 {
		b.WriteString("no events\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// entryLocation renders "REQ-001:title #3" for an entry.
func entryLocation(e store.Entry) string {
	loc := e.Requirement
	if e.Field != "" {
		loc += ":" + e.Field
	}
	if e.Proposal != 0 {
		if loc != "" {
			loc += " "
		}
		loc += e.Proposal.String()
	}
	if loc == "" {
		return "-"
	}
	return loc
}

// formatData renders event details as sorted key=value pairs.
func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, data[k])
	}
	return strings.Join(parts, " ")
}

// VerifyReport is the outcome of a journal chain check.
type VerifyReport struct {
	store.VerifyResult
	Valid bool `json:"ok"`
}

// RenderText implements TextRenderer.
func (r VerifyReport) RenderText(w io.Writer) error {
	if r.Valid {
		_, err := fmt.Fprintf(w, "OK: %d event(s), head %d %s\n", r.Events, r.HeadSeq, shortHash(r.Head))
		return err
	}
	_, err := fmt.Fprintf(w, "BROKEN at seq %d: %s (%d event(s) verified)\n", r.Break.Seq, r.Break.Reason, r.Events)
	return err
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		filter   store.Filter
		proposal string
		verify   bool
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List or verify the audit journal",
		Long: `List the events recorded in the audit journal, oldest first, or with
--verify recompute the hash chain and report the first broken link.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if proposal != "" {
				id, err := parseProposalID(proposal)
				if err != nil {
					return formatter.Fail(err)
				}
				filter.Proposal = id
			}
			return runLog(rootOpts, cmd, formatter, filter, verify)
		},
	}

	cmd.Flags().StringVar(&filter.Requirement, "requirement", "", "only events on this requirement")
	cmd.Flags().StringVar(&proposal, "proposal", "", "only events on this proposal")
	cmd.Flags().StringVar(&filter.Batch, "batch", "", "only events from this batch")
	cmd.Flags().Int64Var(&filter.AfterSeq, "after", 0, "only events after this sequence number")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "maximum number of events (0 = all)")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the hash chain instead of listing")

	return cmd
}

func runLog(opts *RootOptions, cmd *cobra.Command, formatter *OutputFormatter, filter store.Filter, verify bool) error {
	if opts.Root == "" {
		return formatter.Fail(commandError(ExitCommandError, ErrCodeNoProject, "%v", document.ErrNoProject))
	}
	if !opts.Config.Journal.Enabled {
		return formatter.Fail(commandError(ExitCommandError, ErrCodeJournal, "the journal is disabled (journal.enabled: false)"))
	}

	journal, err := store.Open(filepath.Join(opts.Root, document.DirName, document.JournalFile))
	if err != nil {
		return formatter.Fail(commandError(ExitCommandError, ErrCodeJournal, "open journal: %v", err))
	}
	defer journal.Close()

	ctx := cmd.Context()
	if verify {
		res, err := journal.Verify(ctx)
		if err != nil {
			return formatter.Fail(commandError(ExitCommandError, ErrCodeJournal, "%v", err))
		}
		report := VerifyReport{VerifyResult: res, Valid: res.OK()}
		if !report.Valid {
			msg := fmt.Sprintf("journal chain broken at seq %d", res.Break.Seq)
			if formatter.Format == "json" {
				if err := formatter.Error(ErrCodeJournal, msg, report); err != nil {
					return err
				}
			} else if err := report.RenderText(formatter.Writer); err != nil {
				return err
			}
			return &ExitError{Code: ExitFailure, Message: msg, Reported: true}
		}
		return formatter.Success(report)
	}

	entries, err := journal.Events(ctx, filter)
	if err != nil {
		return formatter.Fail(commandError(ExitCommandError, ErrCodeJournal, "%v", err))
	}
	formatter.VerboseLog("Read %d event(s)", len(entries))
	return formatter.Success(LogResult{Events: entries})
}
