package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/galed/internal/document"
)

// writeDocument drops a hand-written requirement document into the project.
func (p *testProject) writeDocument(name, content string) {
	p.t.Helper()
	path := filepath.Join(p.root, document.DirName, document.RequirementsDir, name)
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(p.t, os.WriteFile(path, []byte(content), 0o644))
}

func TestValidateValidProject(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.seedPump()

	out := p.mustRun("validate")
	assert.Equal(t, "OK: 2 requirement(s), 0 proposal(s)\n", out)
}

func TestValidateValidProjectJSON(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First")
	p.mustRun("propose", "REQ-001", "title", "Uno")

	out := p.mustRun("validate", "--format", "json")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, float64(1), data["requirements"])
	assert.Equal(t, float64(1), data["proposals"])
}

func TestValidateEmptyProject(t *testing.T) {
	p := newTestProject(t, "general")

	out := p.mustRun("validate")
	assert.Equal(t, "OK: 0 requirement(s), 0 proposal(s)\n", out)
}

func TestValidateMissingRequiredFields(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.mustRun("create", "REQ-001", "-f", "title=Infusion rate")

	out, err := p.run("validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))
	assert.Contains(t, out, "[E210] REQ-001")
	assert.Contains(t, out, "statement")
	assert.Contains(t, out, "safety.classification")
	assert.Contains(t, out, "FAIL: 2 problem(s)")
}

func TestValidateInvalidDocument(t *testing.T) {
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First")
	p.writeDocument("bad.gal", "id: REQ-X\ndomain: general\nfields: {}\ncolour: red\n")

	out, err := p.run("validate")
	require.Error(t, err)
	assert.Contains(t, out, "bad.gal")
	assert.Contains(t, out, "E301")
	assert.Contains(t, out, "FAIL: 1 problem(s)")

	// Mutations are refused while a document is unreadable.
	out, err = p.run("write", "REQ-001", "title", "Two")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E102]")

	// Read-only commands still see the documents that loaded.
	assert.Contains(t, p.mustRun("show", "REQ-001"), `title = "One"`)
}

func TestValidateInvalidProjectJSON(t *testing.T) {
	p := newTestProject(t, "clinical")
	p.mustRun("create", "REQ-001", "-f", "title=Infusion rate")

	out, err := p.run("validate", "--format", "json")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeViolations, resp.Error.Code)
	details := resp.Error.Details.(map[string]any)
	assert.Equal(t, false, details["valid"])
	assert.Len(t, details["violations"], 2)
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestValidateWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("watches the filesystem")
	}
	p := newTestProject(t, "general")
	p.mustRun("create", "REQ-001", "-f", "title=One", "-f", "statement=First")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := newRootCommand(&RootOptions{
		Environ: map[string]string{"GALED_AUTHOR_ID": "alice"},
		Now:     p.clock.Now,
		IDs:     p.ids,
	})
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"validate", "--watch", "--dir", p.root})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "OK: 1 requirement(s)")
	}, 5*time.Second, 20*time.Millisecond)

	p.writeDocument("bad.gal", "id: REQ-X\ndomain: general\nfields: {}\ncolour: red\n")

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "FAIL: 1 problem(s)")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("validate --watch did not stop after cancel")
	}
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant("/p/.galed/requirements/REQ-001.gal"))
	assert.True(t, relevant("/p/.galed/proposals.log"))
	assert.True(t, relevant("/p/.galed/rules.yaml"))
	assert.False(t, relevant("/p/.galed/journal.db"))
	assert.False(t, relevant("/p/.galed/requirements/.REQ-001.gal.swp"))
}
