// Package taxonomy describes the feed hierarchy: display names and parent links
// for subject codes.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"horse.fit/paperfeed/internal/fingerprint"
)

//go:embed default.yaml
var defaultYAML []byte

type Entry struct {
	UID    string `yaml:"uid"`
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
}

type file struct {
	Feeds []Entry `yaml:"feeds"`
}

type Taxonomy struct {
	entries map[string]Entry
}

// Default returns the embedded taxonomy.
func Default() *Taxonomy {
	t, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded taxonomy is invalid: %v", err))
	}
	return t
}

// Load reads a taxonomy file; an empty path yields the embedded default.
func Load(path string) (*Taxonomy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file %q: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Taxonomy, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode taxonomy: %w", err)
	}

	entries := make(map[string]Entry, len(f.Feeds))
	for i, entry := range f.Feeds {
		entry.UID = fingerprint.FeedCode(entry.UID)
		entry.Parent = fingerprint.FeedCode(entry.Parent)
		if entry.UID == "" {
			return nil, fmt.Errorf("feeds[%d].uid must not be empty", i)
		}
		if entry.Parent == entry.UID {
			return nil, fmt.Errorf("feed %q cannot be its own parent", entry.UID)
		}
		if _, dup := entries[entry.UID]; dup {
			return nil, fmt.Errorf("feed %q is listed twice", entry.UID)
		}
		entries[entry.UID] = entry
	}
	return &Taxonomy{entries: entries}, nil
}

// Parent returns the parent code for uid: the explicit taxonomy parent when listed,
// otherwise the archive prefix of a dotted code.
func (t *Taxonomy) Parent(uid string) string {
	uid = fingerprint.FeedCode(uid)
	if t != nil {
		if entry, ok := t.entries[uid]; ok && entry.Parent != "" {
			return entry.Parent
		}
	}
	return fingerprint.ParentCode(uid)
}

// Name returns the display name for uid, falling back to the code itself.
func (t *Taxonomy) Name(uid string) string {
	uid = fingerprint.FeedCode(uid)
	if t != nil {
		if entry, ok := t.entries[uid]; ok && strings.TrimSpace(entry.Name) != "" {
			return entry.Name
		}
	}
	return uid
}

// Entries lists every entry with parents ahead of their children, then by uid.
func (t *Taxonomy) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, 0, len(t.entries))
	depth := make(map[string]int, len(t.entries))
	for uid, entry := range t.entries {
		out = append(out, entry)
		depth[uid] = t.depth(uid)
	}
	sort.Slice(out, func(i, j int) bool {
		if depth[out[i].UID] != depth[out[j].UID] {
			return depth[out[i].UID] < depth[out[j].UID]
		}
		return out[i].UID < out[j].UID
	})
	return out
}

func (t *Taxonomy) depth(uid string) int {
	seen := map[string]struct{}{uid: {}}
	d := 0
	for {
		parent := t.Parent(uid)
		if parent == "" {
			return d
		}
		if _, loop := seen[parent]; loop {
			return d
		}
		seen[parent] = struct{}{}
		uid = parent
		d++
	}
}
