// Package tier resolves the three configuration tiers (framework, personal,
// project) and merges their instruction blocks.
//
// Precedence, highest first: Project > Personal > Framework. Every tier uses
// the same relative layout:
//
//	instructions/core.md          primary instruction document (block "core")
//	instructions/blocks/<name>.md named override blocks
//	policy/rules.yaml             policy rules
//	config.yaml                   runtime settings
//
// Nothing here is cached. Each hook invocation resolves from disk.
package tier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/academicops/aops/internal/log"
)

// Environment variables naming tier roots.
const (
	EnvFramework = "AOPS"
	EnvPersonal  = "AOPS_PERSONAL"
)

// Layout, relative to a tier root.
const (
	ProjectMarker   = ".aops"
	InstructionsDir = "instructions"
	CoreFile        = "core.md"
	BlocksDir       = "blocks"
	RulesFile       = "policy/rules.yaml"
	ConfigFile      = "config.yaml"
)

// Kind identifies a tier. Larger values take precedence.
type Kind int

const (
	Framework Kind = iota
	Personal
	Project
)

func (k Kind) String() string {
	switch k {
	case Framework:
		return "framework"
	case Personal:
		return "personal"
	case Project:
		return "project"
	default:
		return fmt.Sprintf("tier(%d)", int(k))
	}
}

// Tier is one resolved tier root.
type Tier struct {
	Kind    Kind
	Root    string
	Present bool
}

// Path joins rel onto the tier root.
func (t Tier) Path(rel ...string) string {
	return filepath.Join(append([]string{t.Root}, rel...)...)
}

// Locator finds tier roots from the environment and the working directory.
type Locator struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (l *Locator) getenv(key string) string {
	if l == nil || l.Getenv == nil {
		return os.Getenv(key)
	}
	return l.Getenv(key)
}

// Locate returns all three tiers in ascending precedence. Absent optional tiers
// are returned with Present=false. A missing framework root is fatal.
func (l *Locator) Locate(cwd string) ([]Tier, error) {
	fw, err := l.framework()
	if err != nil {
		return nil, err
	}

	tiers := []Tier{fw, {Kind: Personal}, {Kind: Project}}

	if root := strings.TrimSpace(l.getenv(EnvPersonal)); root != "" {
		tiers[1].Root = root
		if isDir(root) {
			tiers[1].Present = true
		} else {
			log.Warn("personal tier is not a directory; ignoring", "var", EnvPersonal, "path", root)
		}
	}

	if root, ok := FindProjectRoot(cwd); ok {
		tiers[2].Root = filepath.Join(root, ProjectMarker)
		tiers[2].Present = true
	}

	return tiers, nil
}

// FrameworkRoot returns the validated framework root.
func (l *Locator) FrameworkRoot() (string, error) {
	fw, err := l.framework()
	if err != nil {
		return "", err
	}
	return fw.Root, nil
}

func (l *Locator) framework() (Tier, error) {
	root := strings.TrimSpace(l.getenv(EnvFramework))
	if root == "" {
		return Tier{}, fmt.Errorf("%w: %s is not set", ErrFrameworkMissing, EnvFramework)
	}
	if !isDir(root) {
		return Tier{}, fmt.Errorf("%w: %s=%s is not a directory", ErrFrameworkMissing, EnvFramework, root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return Tier{Kind: Framework, Root: abs, Present: true}, nil
}

// FindProjectRoot walks from start towards the filesystem root looking for a
// directory containing the project marker. The nearest one wins.
func FindProjectRoot(start string) (string, bool) {
	if start == "" {
		return "", false
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		if isDir(filepath.Join(dir, ProjectMarker)) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
