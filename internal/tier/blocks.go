package tier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MergeMode controls how a block combines with the same block in lower tiers.
type MergeMode string

const (
	// MergeReplace discards lower-tier content. Default.
	MergeReplace MergeMode = "replace"
	// MergeAppend keeps lower-tier content and adds this tier's text after it.
	MergeAppend MergeMode = "append"
)

type blockMeta struct {
	Merge MergeMode `yaml:"merge"`
}

type rawBlock struct {
	name    string
	source  string
	content string
	mode    MergeMode
}

const frontmatterDelimiter = "---"

// splitFrontmatter separates an optional leading YAML header from the body.
func splitFrontmatter(content string) (blockMeta, string, error) {
	var meta blockMeta
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontmatterDelimiter+"\n") {
		return meta, content, nil
	}

	rest := normalized[len(frontmatterDelimiter)+1:]
	var header, after string
	if strings.HasPrefix(rest, frontmatterDelimiter+"\n") || rest == frontmatterDelimiter {
		after = rest[len(frontmatterDelimiter):]
	} else {
		var ok bool
		header, after, ok = strings.Cut(rest, "\n"+frontmatterDelimiter)
		if !ok {
			return meta, "", errors.New("unterminated front matter")
		}
	}

	if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
		return meta, "", fmt.Errorf("parse front matter: %w", err)
	}
	switch meta.Merge {
	case "":
		meta.Merge = MergeReplace
	case MergeReplace, MergeAppend:
	default:
		return meta, "", fmt.Errorf("unknown merge mode %q", meta.Merge)
	}
	return meta, strings.TrimPrefix(after, "\n"), nil
}

func readBlock(name, path string) (rawBlock, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return rawBlock{}, false, nil
	}
	if err != nil {
		return rawBlock{}, false, fmt.Errorf("read block %s: %w", path, err)
	}
	meta, body, err := splitFrontmatter(string(data))
	if err != nil {
		return rawBlock{}, false, fmt.Errorf("%w %s: %v", ErrBlockInvalid, path, err)
	}
	if meta.Merge == "" {
		meta.Merge = MergeReplace
	}
	return rawBlock{name: name, source: path, content: strings.TrimRight(body, "\n"), mode: meta.Merge}, true, nil
}

// loadBlocks reads every instruction block a tier defines.
func loadBlocks(t Tier) (map[string]rawBlock, error) {
	out := make(map[string]rawBlock)
	if !t.Present {
		return out, nil
	}

	core, ok, err := readBlock("core", t.Path(InstructionsDir, CoreFile))
	if err != nil {
		return nil, err
	}
	if ok {
		out["core"] = core
	}

	dir := t.Path(InstructionsDir, BlocksDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blocks dir %s: %w", dir, err)
	}

	for _, e := range entries {
		fname := e.Name()
		if e.IsDir() || strings.HasPrefix(fname, ".") || filepath.Ext(fname) != ".md" {
			continue
		}
		name := strings.TrimSuffix(fname, ".md")
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%w: block %q defined twice in %s tier", ErrBlockInvalid, name, t.Kind)
		}
		b, ok, err := readBlock(name, filepath.Join(dir, fname))
		if err != nil {
			return nil, err
		}
		if ok {
			out[name] = b
		}
	}
	return out, nil
}

// leadingBlocks always render first, in this order.
var leadingBlocks = []string{"core", "axioms"}

// orderNames returns the leading blocks that are present, then the rest sorted.
func orderNames(names map[string]struct{}) []string {
	ordered := make([]string, 0, len(names))
	for _, n := range leadingBlocks {
		if _, ok := names[n]; ok {
			ordered = append(ordered, n)
			delete(names, n)
		}
	}
	rest := make([]string, 0, len(names))
	for n := range names {
		rest = append(rest, n)
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}
