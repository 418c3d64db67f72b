package document

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/rules"
)

// Layout of a project directory.
const (
	DirName         = ".galed"
	ProjectFile     = "project.yaml"
	ConfigFile      = "galed.yaml"
	RulesFile       = "rules.yaml"
	RequirementsDir = "requirements"
	ProposalLogFile = "proposals.log"
	JournalFile     = "journal.db"
)

var (
	// ErrNoProject is returned when no .galed directory is found.
	ErrNoProject = errors.New("not a galed project (no .galed directory found)")

	// ErrProjectExists is returned by Init when the directory is already a project.
	ErrProjectExists = errors.New("galed project already exists")
)

// Meta is the project.yaml record.
type Meta struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Domain    ir.Domain `yaml:"domain" json:"domain"`
	CreatedAt string    `yaml:"created_at" json:"created_at"`
}

// Project is an opened .galed directory.
//
// Thread-safety: a Project tracks what it last read and wrote so Save can
// skip unchanged documents; it is not safe for concurrent use.
type Project struct {
	Root string // directory holding .galed
	Meta Meta

	checker *Checker
	files   map[string]string // requirement ID -> path relative to requirements/
	written map[string][]byte // requirement ID -> last document bytes
	logged  map[ir.ProposalID][]byte
}

// Contents is everything stored in a project's documents.
type Contents struct {
	Requirements []*ir.Requirement
	Proposals    []*ir.Proposal
}

// Init creates a project directory under root.
func Init(root, name string, domain ir.Domain, now time.Time) (*Project, error) {
	if !ir.ValidDomains[domain] {
		return nil, fmt.Errorf("unknown domain %q", domain)
	}
	dir := filepath.Join(root, DirName)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%s: %w", root, ErrProjectExists)
	}
	if err := os.MkdirAll(filepath.Join(dir, RequirementsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}

	meta := Meta{
		ID:        uuid.NewString(),
		Name:      name,
		Domain:    domain,
		CreatedAt: formatTimestamp(now),
	}
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("encode project: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, ProjectFile), data); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, ProposalLogFile), nil, 0o644); err != nil {
		return nil, fmt.Errorf("create proposal log: %w", err)
	}
	return Open(root)
}

// Find walks up from start to the nearest directory containing .galed.
func Find(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoProject
		}
		dir = parent
	}
}

// Open reads the project record under root.
func Open(root string) (*Project, error) {
	path := filepath.Join(root, DirName, ProjectFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", root, ErrNoProject)
	}
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}

	checker, err := NewChecker()
	if err != nil {
		return nil, err
	}
	if diags := checker.Check(path, data, DefProject); len(diags) > 0 {
		return nil, diags[0]
	}
	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}

	return &Project{
		Root:    root,
		Meta:    meta,
		checker: checker,
		files:   make(map[string]string),
		written: make(map[string][]byte),
		logged:  make(map[ir.ProposalID][]byte),
	}, nil
}

// Path joins elem onto the project's .galed directory.
func (p *Project) Path(elem ...string) string {
	return filepath.Join(append([]string{p.Root, DirName}, elem...)...)
}

// Rules loads rules.yaml, or the built-in rule table when the project has
// none.
func (p *Project) Rules() (*rules.RuleSet, error) {
	return rules.LoadFile(p.Path(RulesFile))
}

// Load reads every requirement document and the proposal log.
//
// Content problems (bad YAML, schema mismatches, undecodable values,
// duplicate IDs) are returned as diagnostics and the offending document is
// skipped; the error return is reserved for I/O failures.
func (p *Project) Load() (*Contents, []Diagnostic, error) {
	reqDir := p.Path(RequirementsDir)
	matches, err := doublestar.FilepathGlob(filepath.Join(reqDir, "**", "*.gal"))
	if err != nil {
		return nil, nil, fmt.Errorf("scan requirements: %w", err)
	}
	slices.Sort(matches)

	var (
		diags    []Diagnostic
		contents = &Contents{Requirements: []*ir.Requirement{}, Proposals: []*ir.Proposal{}}
		seen     = make(map[string]string)
	)
	clear(p.files)
	clear(p.written)
	for _, path := range matches {
		rel, _ := filepath.Rel(reqDir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", rel, err)
		}
		name := filepath.Join(RequirementsDir, rel)
		if ds := p.checker.Check(name, data, DefRequirement); len(ds) > 0 {
			diags = append(diags, ds...)
			continue
		}
		r, ds := DecodeRequirement(name, data)
		if len(ds) > 0 {
			diags = append(diags, ds...)
			continue
		}
		if first, dup := seen[r.ID]; dup {
			diags = append(diags, Diagnostic{File: name, Code: DiagDuplicate, Message: fmt.Sprintf("requirement %s is already defined in %s", r.ID, first)})
			continue
		}
		seen[r.ID] = name
		p.files[r.ID] = rel
		// compare later saves against the normalized form, so hand-written
		// documents are only reformatted when their content changes
		if enc, err := EncodeRequirement(r); err == nil {
			p.written[r.ID] = enc
		}
		contents.Requirements = append(contents.Requirements, r)
	}

	logPath := p.Path(ProposalLogFile)
	data, err := os.ReadFile(logPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("read proposal log: %w", err)
	}
	proposals, ds := DecodeProposalLog(ProposalLogFile, data, p.checker)
	diags = append(diags, ds...)
	clear(p.logged)
	for _, prop := range proposals {
		if enc, err := EncodeProposal(prop); err == nil {
			p.logged[prop.ID] = enc
		}
	}
	contents.Proposals = proposals

	sortDiagnostics(diags)
	return contents, diags, nil
}

// Save writes the store back: changed requirement documents are rewritten
// in place, documents of removed requirements are deleted, and a record is
// appended to the proposal log for every proposal whose state changed since
// the last Load or Save.
func (p *Project) Save(c *Contents) error {
	keep := make(map[string]bool, len(c.Requirements))
	for _, r := range c.Requirements {
		keep[r.ID] = true
		data, err := EncodeRequirement(r)
		if err != nil {
			return err
		}
		if bytes.Equal(data, p.written[r.ID]) {
			continue
		}
		rel, ok := p.files[r.ID]
		if !ok {
			rel = r.ID + ".gal"
		}
		if err := writeFileAtomic(p.Path(RequirementsDir, rel), data); err != nil {
			return err
		}
		p.files[r.ID] = rel
		p.written[r.ID] = data
	}
	for id, rel := range p.files {
		if keep[id] {
			continue
		}
		if err := os.Remove(p.Path(RequirementsDir, rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", rel, err)
		}
		delete(p.files, id)
		delete(p.written, id)
	}

	var appended bytes.Buffer
	changed := make(map[ir.ProposalID][]byte)
	for _, prop := range c.Proposals {
		enc, err := EncodeProposal(prop)
		if err != nil {
			return err
		}
		if bytes.Equal(enc, p.logged[prop.ID]) {
			continue
		}
		appended.Write(enc)
		changed[prop.ID] = enc
	}
	if appended.Len() == 0 {
		return nil
	}
	f, err := os.OpenFile(p.Path(ProposalLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open proposal log: %w", err)
	}
	if _, err := f.Write(appended.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append proposal log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("append proposal log: %w", err)
	}
	for id, enc := range changed {
		p.logged[id] = enc
	}
	return nil
}

// writeFileAtomic writes through a temp file and rename so a crash never
// leaves a half-written document.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
