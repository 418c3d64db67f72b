package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/galed/internal/document"
	"github.com/roach88/galed/internal/testutil"
)

// testProject drives galed commands against a project in a temp directory.
// Every invocation builds a fresh command tree, as separate processes would,
// but shares one clock and batch ID sequence.
type testProject struct {
	t     *testing.T
	root  string
	clock *testutil.StepClock
	ids   *testutil.SequenceIDs
}

// newTestProject runs "galed init" in a temp directory.
func newTestProject(t *testing.T, domain string) *testProject {
	t.Helper()
	p := &testProject{
		t:     t,
		root:  t.TempDir(),
		clock: testutil.NewStepClock(),
		ids:   testutil.NewSequenceIDs("batch"),
	}
	p.mustRun("init", "--name", "pump", "--domain", domain)
	return p
}

// run executes one command as alice(human) unless --author flags override
// it. Returns stdout; logs go to a discarded stderr.
func (p *testProject) run(args ...string) (string, error) {
	p.t.Helper()
	return p.exec(append(args, "--dir", p.root)...)
}

// exec executes one command exactly as given, without --dir.
func (p *testProject) exec(args ...string) (string, error) {
	p.t.Helper()
	opts := &RootOptions{
		Environ: map[string]string{"GALED_AUTHOR_ID": "alice"},
		Now:     p.clock.Now,
		IDs:     p.ids,
	}
	cmd := newRootCommand(opts)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (p *testProject) mustRun(args ...string) string {
	p.t.Helper()
	out, err := p.run(args...)
	require.NoError(p.t, err, "galed %s: %s", strings.Join(args, " "), out)
	return out
}

// asAI appends the flags that act as an AI author.
func asAI(args ...string) []string {
	return append(args, "--author", "gpt", "--author-kind", "ai")
}

// seedPump creates two clinical requirements, REQ-002 depending on REQ-001,
// with locked safety and acceptance fields.
func (p *testProject) seedPump() {
	p.t.Helper()
	p.mustRun("create", "REQ-001",
		"-f", "title=Infusion rate",
		"-f", "statement=The pump limits the infusion rate",
		"-f", "safety.classification=C", "--options", "safety.classification=A,B,C",
		"--lock", "safety.classification=LOCKED_HUMAN",
		"-f", "ac.threshold:number=5", "--lock", "ac.threshold=LOCKED_HUMAN",
	)
	p.mustRun("create", "REQ-002",
		"-f", "title=Occlusion alarm",
		"-f", "statement=The pump alarms on occlusion",
		"-f", "safety.classification=B", "--options", "safety.classification=A,B,C",
		"--lock", "safety.classification=LOCKED_HUMAN",
	)
	p.mustRun("link", "REQ-002", "depends_on", "REQ-001")
}

func decodeResponse(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestInit_CreatesProject(t *testing.T) {
	p := newTestProject(t, "clinical")

	assert.DirExists(t, filepath.Join(p.root, document.DirName, document.RequirementsDir))
	assert.FileExists(t, filepath.Join(p.root, document.DirName, document.ProjectFile))

	cfg, err := os.ReadFile(filepath.Join(p.root, document.DirName, document.ConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "id: alice")

	out, err := p.run("init")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]")
}

func TestInit_UnknownDomain(t *testing.T) {
	p := &testProject{t: t, root: t.TempDir(), clock: testutil.NewStepClock(), ids: testutil.NewSequenceIDs("")}

	out, err := p.run("init", "--domain", "nautical")
	require.Error(t, err)
	assert.Contains(t, out, `unknown domain "nautical"`)
}

func TestCommands_NoProject(t *testing.T) {
	p := &testProject{t: t, root: t.TempDir(), clock: testutil.NewStepClock(), ids: testutil.NewSequenceIDs("")}

	out, err := p.run("status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, IsReported(err))
	assert.Contains(t, out, "Error [E100]")
}

func TestCreate_ShowsRequirement(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	out := p.mustRun("show", "REQ-001")
	assert.Contains(t, out, "REQ-001 (clinical)")
	assert.Contains(t, out, `title = "Infusion rate"  OPEN v1  alice(human)`)
	assert.Contains(t, out, "ac.threshold = 5  LOCKED_HUMAN v1")
	assert.Contains(t, out, "options: A|B|C")
	assert.Contains(t, out, "dependents: REQ-002")

	out = p.mustRun("show", "REQ-002")
	assert.Contains(t, out, "traces:\n  depends_on REQ-001")

	assert.FileExists(t, filepath.Join(p.root, document.DirName, document.RequirementsDir, "REQ-001.gal"))
}

func TestShow_ValueDigests(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "limit:number=10")
	p.mustRun("create", "REQ-002", "-f", "limit:number=10.0")
	p.mustRun("create", "REQ-003", "-f", "limit=10")

	digest := func(id string) string {
		t.Helper()
		resp := decodeResponse(t, p.mustRun("show", id, "--format", "json"))
		digests := resp["data"].(map[string]any)["digests"].(map[string]any)
		d, _ := digests["limit"].(string)
		require.Len(t, d, 16)
		return d
	}

	assert.Equal(t, digest("REQ-001"), digest("REQ-002"), "same number, different spelling")
	assert.NotEqual(t, digest("REQ-001"), digest("REQ-003"), "string and number differ")
}

func TestCreate_DuplicateID(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First")

	out, err := p.run("create", "REQ-001")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [DUPLICATE_ID]")
}

func TestCreate_BadFieldFlag(t *testing.T) {
	p := newTestProject(t, "general")

	out, err := p.run("create", "REQ-001", "-f", "title")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "expected key=value")

	out, err = p.run("create", "REQ-001", "-f", "n:decimal=1")
	require.Error(t, err)
	assert.Contains(t, out, `unknown kind "decimal"`)

	// Nothing was created by the failed invocations.
	out, err = p.run("show", "REQ-001")
	require.Error(t, err)
	assert.Contains(t, out, "Error [NOT_FOUND]")
}

func TestWrite_OpenAndLockedFields(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	out := p.mustRun("write", "REQ-001", "title", "Maximum infusion rate")
	assert.Equal(t, "REQ-001:title = \"Maximum infusion rate\"  OPEN v2\n", out)

	out, err := p.run("write", "REQ-001", "ac.threshold", "4")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [LOCKED_FIELD]")

	out, err = p.run("write", "REQ-001", "title", "x", "--format", "json")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp["status"])
}

func TestWrite_ValueOfWrongKind(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First", "-f", "limit:number=3")

	out, err := p.run("write", "REQ-001", "limit", "three", "--format", "json")
	require.Error(t, err)
	resp := decodeResponse(t, out)
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, "INVALID_VALUE", errObj["code"])
	assert.Equal(t, map[string]any{"requirement": "REQ-001", "field": "limit"}, errObj["details"])
}

func TestProposalWorkflow_AcceptFlagsDependents(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	out := p.mustRun("propose", "REQ-001", "ac.threshold", "4", "-r", "tighter limit")
	assert.Equal(t, "Opened #1 REQ-001:ac.threshold = 4 OPEN by alice(human) (tighter limit)\n", out)

	out = p.mustRun("status")
	assert.Contains(t, out, "Project pump (clinical): 2 requirement(s)")
	assert.Contains(t, out, "Open proposals: 1\n  #1 REQ-001:ac.threshold = 4 OPEN")

	out = p.mustRun("accept", "1", "-n", "reviewed")
	assert.Contains(t, out, "Accepted #1 REQ-001:ac.threshold = 4 ACCEPTED by alice(human)")
	assert.Contains(t, out, "note: reviewed")
	assert.Contains(t, out, "needs review: REQ-002")

	out = p.mustRun("show", "REQ-001")
	assert.Contains(t, out, "ac.threshold = 4  LOCKED_HUMAN v2")
	assert.Contains(t, out, "via #1")

	out = p.mustRun("status")
	assert.Contains(t, out, "Open proposals: 0")
	assert.Contains(t, out, "Needs review: REQ-002")

	out = p.mustRun("review", "clear", "REQ-002")
	assert.Equal(t, "Cleared: REQ-002\n", out)
	assert.Contains(t, p.mustRun("status"), "Needs review: none")

	out, err := p.run("accept", "#1")
	require.Error(t, err)
	assert.Contains(t, out, "Error [WRONG_STATUS]")
}

func TestProposalWorkflow_PolicyConflict(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	out := p.mustRun(asAI("propose", "REQ-001", "ac.threshold", "3")...)
	assert.Contains(t, out, "Opened #1 REQ-001:ac.threshold = 3 CONFLICTING by gpt(ai)")
	assert.Contains(t, out, "POLICY_CONFLICT")

	out = p.mustRun("status")
	assert.Contains(t, out, "Conflicting proposals: 1")

	out = p.mustRun("reject", "1", "-n", "humans only")
	assert.Contains(t, out, "Rejected #1")
	assert.Contains(t, out, "REJECTED")
}

func TestProposalWorkflow_ValueConflictAndResubmit(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First", "-f", "limit:number=3")

	p.mustRun("propose", "REQ-001", "limit", "4")
	out := p.mustRun(asAI("propose", "REQ-001", "limit", "5")...)
	assert.Contains(t, out, "#2 REQ-001:limit = 5 CONFLICTING")
	assert.Contains(t, out, "VALUE_CONFLICT with #1")

	out = p.mustRun("status")
	assert.Contains(t, out, "Conflicting proposals: 2")

	// Only the author may resubmit.
	out, err := p.run("resubmit", "2", "4")
	require.Error(t, err)
	assert.Contains(t, out, "Error [UNAUTHORIZED]")

	out = p.mustRun(asAI("resubmit", "2", "4", "-r", "agree with #1")...)
	assert.Contains(t, out, "Resubmitted #3 REQ-001:limit = 4")

	out = p.mustRun("show", "REQ-001")
	assert.Contains(t, out, "#2 REQ-001:limit = 5 REJECTED")
}

func TestProposalWorkflow_Unauthorized(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()
	p.mustRun("propose", "REQ-001", "ac.threshold", "6")

	out, err := p.run(asAI("accept", "1")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [UNAUTHORIZED]")

	out = p.mustRun("show", "REQ-001")
	assert.Contains(t, out, "ac.threshold = 5  LOCKED_HUMAN v1")
}

func TestPropose_RequiresChange(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First")

	out, err := p.run("propose", "REQ-001", "title")
	require.Error(t, err)
	assert.Contains(t, out, "a proposal needs a value or --lock")

	out, err = p.run("propose", "REQ-001", "title", "Two", "--lock", "LOCKED_HUMAN")
	require.Error(t, err)
	assert.Contains(t, out, "not both")

	out = p.mustRun("propose", "REQ-001", "title", "--lock", "locked_human")
	assert.Contains(t, out, "REQ-001:title = lock=LOCKED_HUMAN OPEN")
}

func TestLock_DirectChange(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First")

	out := p.mustRun("lock", "REQ-001", "title", "LOCKED_HUMAN")
	assert.Contains(t, out, "REQ-001:title = \"One\"  LOCKED_HUMAN")

	_, err := p.run("write", "REQ-001", "title", "Two")
	require.Error(t, err)

	out, err = p.run("lock", "REQ-001", "title", "SEALED")
	require.Error(t, err)
	assert.Contains(t, out, `invalid lock state "SEALED"`)
}

func TestLink_CycleRefused(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	out, err := p.run("link", "REQ-001", "depends_on", "REQ-002")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [CYCLE_DETECTED]")

	out, err = p.run("link", "REQ-001", "refines", "REQ-002")
	require.Error(t, err)
	assert.Contains(t, out, `invalid edge kind "refines"`)

	out = p.mustRun("unlink", "REQ-002", "depends_on", "REQ-001")
	assert.Equal(t, "removed REQ-002 depends_on REQ-001\n", out)
	p.mustRun("link", "REQ-001", "depends_on", "REQ-002")
}

func TestRemove_HasDependents(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	out, err := p.run("remove", "REQ-001")
	require.Error(t, err)
	assert.Contains(t, out, "Error [HAS_DEPENDENTS]")

	out = p.mustRun("remove", "REQ-001", "--force")
	assert.Equal(t, "removed REQ-001\n", out)
	assert.NoFileExists(t, filepath.Join(p.root, document.DirName, document.RequirementsDir, "REQ-001.gal"))

	out = p.mustRun("status")
	assert.Contains(t, out, "Needs review: REQ-002")
}

func TestImport_CreatesStub(t *testing.T) {
	p := newTestProject(t, "clinical")

	out := p.mustRun("import", "--source", "jira", "--issue", "ABC-12", "-f", "title=Bolus limit")
	assert.Contains(t, out, "JIRA-ABC-12 (clinical)")
	assert.Contains(t, out, `title = "Bolus limit"`)
	assert.Contains(t, out, `statement = ""`)

	out, err := p.run("import", "--source", "jira")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "issue" not set`)
	assert.Empty(t, out)
}

func TestReview_Propagate(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	out := p.mustRun("review", "propagate", "REQ-001")
	assert.Equal(t, "Flagged: REQ-002\n", out)

	out = p.mustRun("review", "propagate", "REQ-001")
	assert.Equal(t, "Flagged: none\n", out)
}

func TestLog_ListAndVerify(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()
	p.mustRun("propose", "REQ-001", "ac.threshold", "4")
	p.mustRun("accept", "1")

	out := p.mustRun("log", "--requirement", "REQ-002")
	assert.Contains(t, out, "requirement.created")
	assert.Contains(t, out, "edge.added")
	assert.Contains(t, out, "review.flagged")
	assert.Contains(t, out, "cause=REQ-001")

	out = p.mustRun("log", "--proposal", "#1")
	assert.Contains(t, out, "proposal.opened")
	assert.Contains(t, out, "proposal.accepted")
	assert.NotContains(t, out, "requirement.created")

	out = p.mustRun("log", "--batch", "batch-0001")
	assert.Contains(t, out, "REQ-001")
	assert.NotContains(t, out, "REQ-002")

	out = p.mustRun("log", "--verify")
	assert.True(t, strings.HasPrefix(out, "OK: "), out)

	out = p.mustRun("log", "--verify", "--format", "json")
	resp := decodeResponse(t, out)
	data := resp["data"].(map[string]any)
	assert.Equal(t, true, data["ok"])

	out = p.mustRun("log", "--after", "1000")
	assert.Equal(t, "no events\n", out)
}

func TestLog_JournalDisabled(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First", "--no-journal")

	out, err := p.run("log", "--no-journal")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E104]")

	out = p.mustRun("log")
	assert.Equal(t, "no events\n", out)
}

func TestCommands_NoAuthor(t *testing.T) {
	p := newTestProject(t, "general")

	out, err := p.run("create", "REQ-001", "--author", "")
	require.Error(t, err)
	assert.Contains(t, out, "Error [E105]")
}

func TestCommands_MetricsTextfile(t *testing.T) {
	p := newTestProject(t, "general")
	path := filepath.Join(t.TempDir(), "galed.prom")

	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First", "--metrics-file", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `galed_events_total{kind="requirement.created"} 1`)
	assert.Contains(t, string(data), "galed_requirements 1")
}

func TestGraph_Command(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	out := p.mustRun("graph")
	assert.Contains(t, out, "Requirements: 2\n")
	assert.Contains(t, out, "Edges: 1 (depends_on 1, derived_from 0, conflicts_with 0)")
	assert.Contains(t, out, "Roots: REQ-001\n")
	assert.Contains(t, out, "Leaves: REQ-002\n")

	out = p.mustRun("graph", "--dot")
	assert.Contains(t, out, `"REQ-002" -> "REQ-001" [label="depends_on"];`)

	out = p.mustRun("graph", "--format", "json")
	resp := decodeResponse(t, out)
	data := resp["data"].(map[string]any)
	assert.Len(t, data["nodes"], 2)
	assert.Len(t, data["edges"], 1)
}

func TestGraph_FormatAliases(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	summary := p.mustRun("graph", "--format", "summary")
	assert.Equal(t, p.mustRun("graph"), summary)
	assert.Contains(t, summary, "Roots: REQ-001\n")

	dot := p.mustRun("graph", "--format", "dot")
	assert.Equal(t, p.mustRun("graph", "--dot"), dot)
	assert.Contains(t, dot, `"REQ-002" -> "REQ-001" [label="depends_on"];`)
}

func TestFormat_GraphOnlyValues(t *testing.T) {
	p := newTestProject(t, "general")

	for _, command := range []string{"status", "validate"} {
		_, err := p.run(command, "--format", "dot")
		require.Error(t, err, command)
		assert.Contains(t, err.Error(), `invalid format "dot"`)
	}
}

func TestPathArgument_ProjectDirectory(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()
	dotGaled := filepath.Join(p.root, document.DirName)

	out, err := p.exec("status", p.root)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Project pump (clinical): 2 requirement(s)\n")

	out, err = p.exec("graph", "--format", "dot", dotGaled)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"REQ-002" -> "REQ-001"`)

	for _, path := range []string{p.root, dotGaled} {
		out, err = p.exec("validate", path)
		require.NoError(t, err, out)
		assert.Equal(t, "OK: 2 requirement(s), 0 proposal(s)\n", out)
	}
}

func TestPathArgument_OverridesDir(t *testing.T) {
	p := newTestProject(t, "general")
	other := newTestProject(t, "aerospace")

	out, err := p.exec("status", other.root, "--dir", p.root)
	require.NoError(t, err, out)
	assert.Contains(t, out, "(aerospace)")
}

func TestPathArgument_Missing(t *testing.T) {
	p := newTestProject(t, "general")

	for _, command := range []string{"status", "graph", "validate"} {
		_, err := p.exec(command, filepath.Join(p.root, "nope"))
		require.Error(t, err, command)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	}
}

func TestPathArgument_TooMany(t *testing.T) {
	p := newTestProject(t, "general")

	_, err := p.exec("status", p.root, p.root)
	require.Error(t, err)
}

func TestValidate_SingleDocument(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First")
	docs := filepath.Join(p.root, document.DirName, document.RequirementsDir)

	// A stored document validates on its own.
	out, err := p.exec("validate", filepath.Join(docs, "REQ-001.gal"))
	require.NoError(t, err, out)
	assert.Equal(t, "OK: 1 requirement(s), 0 proposal(s)\n", out)

	// Edges resolve against the project; rules come from its domain table.
	p.writeDocument("REQ-002.gal", `id: REQ-002
domain: general
fields:
  title:
    value: Two
    lock: OPEN
    version: 1
traces:
  - kind: depends_on
    target: REQ-001
  - kind: depends_on
    target: REQ-404
`)
	out, err = p.exec("validate", filepath.Join(docs, "REQ-002.gal"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "[E210] REQ-002:statement")
	assert.Contains(t, out, "REQ-404")
	assert.NotContains(t, out, "edge to unknown requirement REQ-001")
	assert.Contains(t, out, "FAIL: 2 problem(s)")

	// Schema problems stop before the rules run.
	p.writeDocument("bad.gal", "id: REQ-X\ndomain: general\nfields: {}\ncolour: red\n")
	out, err = p.exec("validate", filepath.Join(docs, "bad.gal"), "--format", "json")
	require.Error(t, err)
	resp := decodeResponse(t, out)
	details := resp["error"].(map[string]any)["details"].(map[string]any)
	diags := details["diagnostics"].([]any)
	require.Len(t, diags, 1)
	assert.Equal(t, document.DiagSchema, diags[0].(map[string]any)["code"])
	assert.Nil(t, details["violations"])
}

func TestValidate_DocumentOutsideProject(t *testing.T) {
	p := &testProject{t: t, root: t.TempDir(), clock: testutil.NewStepClock(), ids: testutil.NewSequenceIDs("")}
	path := filepath.Join(p.root, "REQ-001.gal")
	require.NoError(t, os.WriteFile(path, []byte(`id: REQ-001
domain: general
fields:
  title:
    value: One
    lock: OPEN
    version: 1
  statement:
    value: First
    lock: OPEN
    version: 1
`), 0o644))

	out, err := p.exec("validate", path)
	require.NoError(t, err, out)
	assert.Equal(t, "OK: 1 requirement(s), 0 proposal(s)\n", out)
}
