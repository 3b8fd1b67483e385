package artifact

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphal/autoflow/workflow"
)

// Artifact errors
var (
	ErrNotFound = errors.New("artifact not found")
)

// Canonical filenames for the artifact kinds the default plan produces
const (
	FilePlaybook       = "playbook.yml"
	FileTests          = "tests.yml"
	FileDocs           = "README.md"
	FileReview         = "review.json"
	FileWorkflowGitHub = "workflow.yml"
	FileWorkflowGitLab = ".gitlab-ci.yml"
)

// FileName maps an artifact kind to its canonical filename. The CI/CD
// definition is named for the platform the request targets; unknown kinds
// get a .txt suffix so custom stages still persist somewhere sensible.
func FileName(kind string, ci workflow.CIPlatform) string {
	switch kind {
	case workflow.KindPlaybook:
		return FilePlaybook
	case workflow.KindTests:
		return FileTests
	case workflow.KindDocs:
		return FileDocs
	case workflow.KindReview:
		return FileReview
	case workflow.KindCICD:
		if ci == workflow.CIGitLab {
			return FileWorkflowGitLab
		}
		return FileWorkflowGitHub
	default:
		return kind + ".txt"
	}
}

// Config holds configuration for artifact storage
type Config struct {
	BaseDir       string // Base directory for storage (default: ".autoflow")
	CompressAbove int64  // Compress artifacts larger than this (default: 10KB)
}

// Manager stores run artifacts on disk, compressing large ones
type Manager struct {
	baseDir       string
	compressAbove int64
}

// Info contains metadata about a stored artifact
type Info struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	ModTime    time.Time `json:"mod_time"`
	Type       string    `json:"type"`
}

// Type describes an artifact content type
type Type struct {
	Name         string
	Extensions   []string
	Compressible bool
}

// KnownTypes maps type names to their definitions
var KnownTypes = map[string]Type{
	"yaml":     {"yaml", []string{".yml", ".yaml"}, true},
	"markdown": {"markdown", []string{".md"}, true},
	"json":     {"json", []string{".json"}, true},
	"text":     {"text", []string{".txt", ".log"}, true},
	"binary":   {"binary", []string{".gz", ".tar", ".zip", ".png", ".pdf"}, false},
}

// NewManager creates an artifact manager with the given config
func NewManager(cfg Config) *Manager {
	if cfg.BaseDir == "" {
		cfg.BaseDir = ".autoflow"
	}
	if cfg.CompressAbove == 0 {
		cfg.CompressAbove = 10 * 1024 // 10KB
	}

	return &Manager{
		baseDir:       cfg.BaseDir,
		compressAbove: cfg.CompressAbove,
	}
}

// BaseDir returns the base directory
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// RunDir returns the directory for a run
func (m *Manager) RunDir(runID string) string {
	return filepath.Join(m.baseDir, "runs", runID)
}

// Dir returns the artifacts directory for a run
func (m *Manager) Dir(runID string) string {
	return filepath.Join(m.RunDir(runID), "artifacts")
}

// EnsureRunDir creates the run directory structure
func (m *Manager) EnsureRunDir(runID string) error {
	return os.MkdirAll(m.Dir(runID), 0755)
}

// Save stores an artifact, compressing it when it is large enough and its
// type benefits. Only one variant of the file is kept on disk.
func (m *Manager) Save(runID, name string, data []byte) error {
	path := filepath.Join(m.Dir(runID), name)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	if m.shouldCompress(InferType(name), int64(len(data))) {
		os.Remove(path)
		return m.saveCompressed(path+".gz", data)
	}

	os.Remove(path + ".gz")
	return os.WriteFile(path, data, 0644)
}

// Load reads an artifact, decompressing transparently
func (m *Manager) Load(runID, name string) ([]byte, error) {
	path := filepath.Join(m.Dir(runID), name)

	if data, err := m.loadCompressed(path + ".gz"); err == nil {
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Delete removes an artifact, whichever variant is stored
func (m *Manager) Delete(runID, name string) error {
	path := filepath.Join(m.Dir(runID), name)

	os.Remove(path + ".gz")
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// Has reports whether an artifact exists in either variant
func (m *Manager) Has(runID, name string) bool {
	path := filepath.Join(m.Dir(runID), name)

	if _, err := os.Stat(path + ".gz"); err == nil {
		return true
	}
	if _, err := os.Stat(path); err == nil {
		return true
	}
	return false
}

// GetInfo returns metadata for a stored artifact
func (m *Manager) GetInfo(runID, name string) (*Info, error) {
	path := filepath.Join(m.Dir(runID), name)

	fi, err := os.Stat(path + ".gz")
	compressed := err == nil
	if !compressed {
		fi, err = os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, err
		}
	}

	return &Info{
		Name:       name,
		Size:       fi.Size(),
		Compressed: compressed,
		ModTime:    fi.ModTime(),
		Type:       InferType(name).Name,
	}, nil
}

// List returns all artifacts for a run, sorted by name. Nested names keep
// their relative path.
func (m *Manager) List(runID string) ([]Info, error) {
	dir := m.Dir(runID)

	var artifacts []Info
	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		name := rel
		compressed := false
		if strings.HasSuffix(name, ".gz") {
			name = strings.TrimSuffix(name, ".gz")
			compressed = true
		}

		artifacts = append(artifacts, Info{
			Name:       name,
			Size:       fi.Size(),
			Compressed: compressed,
			ModTime:    fi.ModTime(),
			Type:       InferType(name).Name,
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})

	return artifacts, nil
}

// Export materializes all artifacts of a run into destDir, decompressed
// and under their canonical names
func (m *Manager) Export(runID, destDir string) error {
	artifacts, err := m.List(runID)
	if err != nil {
		return err
	}

	for _, a := range artifacts {
		data, err := m.Load(runID, a.Name)
		if err != nil {
			return fmt.Errorf("export %s: %w", a.Name, err)
		}

		target := filepath.Join(destDir, a.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return fmt.Errorf("export %s: %w", a.Name, err)
		}
	}

	return nil
}

func (m *Manager) shouldCompress(t Type, size int64) bool {
	if !t.Compressible {
		return false
	}
	return size >= m.compressAbove
}

func (m *Manager) saveCompressed(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()

	_, err = gz.Write(data)
	return err
}

func (m *Manager) loadCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// InferType infers the artifact content type from a filename
func InferType(filename string) Type {
	ext := strings.ToLower(filepath.Ext(filename))

	for _, t := range KnownTypes {
		for _, e := range t.Extensions {
			if e == ext {
				return t
			}
		}
	}

	return Type{Name: "unknown", Compressible: true}
}
