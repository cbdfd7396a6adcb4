package tier

import (
	"fmt"
	"strings"
)

// Block is one named instruction block after merging.
type Block struct {
	Name string
	// Tier is the highest-precedence tier that contributed.
	Tier Kind
	// Sources lists every contributing file, lowest tier first.
	Sources []string
	Content string
}

// Source is the winning file.
func (b Block) Source() string {
	if len(b.Sources) == 0 {
		return ""
	}
	return b.Sources[len(b.Sources)-1]
}

// MergedSet is the ordered result of merging all present tiers.
type MergedSet struct {
	Tiers  []Tier
	Blocks []Block
}

// Get returns the merged block called name.
func (m *MergedSet) Get(name string) (Block, bool) {
	for _, b := range m.Blocks {
		if b.Name == name {
			return b, true
		}
	}
	return Block{}, false
}

// Render concatenates all blocks with provenance headers. Identical inputs
// produce byte-identical output.
func (m *MergedSet) Render() string {
	var sb strings.Builder
	for i, b := range m.Blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "<!-- aops:block %s (%s: %s) -->\n", b.Name, b.Tier, b.Source())
		sb.WriteString(b.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Resolver merges instruction blocks across tiers.
type Resolver struct {
	Locator *Locator
}

// NewResolver returns a Resolver reading tier roots through l (nil uses the
// process environment).
func NewResolver(l *Locator) *Resolver {
	if l == nil {
		l = &Locator{}
	}
	return &Resolver{Locator: l}
}

// Tiers locates the tiers for cwd without reading any blocks.
func (r *Resolver) Tiers(cwd string) ([]Tier, error) {
	return r.Locator.Locate(cwd)
}

// Resolve locates the tiers for cwd and merges their blocks. For each block
// name the highest-precedence tier wins; names defined in only one tier pass
// through untouched.
func (r *Resolver) Resolve(cwd string) (*MergedSet, error) {
	tiers, err := r.Locator.Locate(cwd)
	if err != nil {
		return nil, err
	}

	loaded := make([]map[string]rawBlock, len(tiers))
	names := make(map[string]struct{})
	for i, t := range tiers {
		blocks, err := loadBlocks(t)
		if err != nil {
			return nil, err
		}
		loaded[i] = blocks
		for n := range blocks {
			names[n] = struct{}{}
		}
	}

	set := &MergedSet{Tiers: tiers}
	for _, name := range orderNames(names) {
		var acc Block
		found := false
		for i, t := range tiers {
			raw, ok := loaded[i][name]
			if !ok {
				continue
			}
			if found && raw.mode == MergeAppend {
				acc.Content = acc.Content + "\n\n" + raw.content
				acc.Sources = append(acc.Sources, raw.source)
			} else {
				acc = Block{Name: name, Sources: []string{raw.source}, Content: raw.content}
			}
			acc.Tier = t.Kind
			found = true
		}
		set.Blocks = append(set.Blocks, acc)
	}
	return set, nil
}

// BlockNameForPath maps an instruction file path back to the block name it
// defines, or "" when path is not an instruction file.
func BlockNameForPath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	if strings.HasSuffix(p, "/"+InstructionsDir+"/"+CoreFile) {
		return "core"
	}
	marker := "/" + InstructionsDir + "/" + BlocksDir + "/"
	idx := strings.LastIndex(p, marker)
	if idx < 0 {
		return ""
	}
	rest := p[idx+len(marker):]
	if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".md") {
		return ""
	}
	return strings.TrimSuffix(rest, ".md")
}
