package voice

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is a chat permission tier. Tables are keyed by role; RoleDefault
// seeds every other role's table.
type Role string

const (
	RoleDefault    Role = "default"
	RoleStreamer   Role = "streamer"
	RoleModerator  Role = "moderator"
	RoleVIP        Role = "vip"
	RoleSubscriber Role = "subscriber"
	RoleOthers     Role = "others"
	RoleSystem     Role = "system"
)

// LanguageAll is the wildcard language key matching any language with no
// exact entry.
const LanguageAll = "all"

// Entry binds one language to a synthesis engine and voice.
type Entry struct {
	Language string
	Engine   string
	Voice    Params
}

// Table maps a language code (or LanguageAll) to its voice entry.
type Table map[string]Entry

// Tables holds the per-role voice tables with the default already merged
// in: looking up any role yields a complete table.
type Tables map[Role]Table

type tableFile struct {
	Default    []entrySpec `yaml:"default"`
	Streamer   []entrySpec `yaml:"streamer"`
	Moderator  []entrySpec `yaml:"moderator"`
	VIP        []entrySpec `yaml:"vip"`
	Subscriber []entrySpec `yaml:"subscriber"`
	Others     []entrySpec `yaml:"others"`
	System     []entrySpec `yaml:"system"`
}

type entrySpec struct {
	Lang   string `yaml:"lang"`
	Engine string `yaml:"engine"`
	Cast   string `yaml:"cast"`
	Param  string `yaml:"param"`
}

// LoadTables reads and parses the voice table file.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("voice tables: %w", err)
	}
	tables, err := ParseTables(data)
	if err != nil {
		return nil, fmt.Errorf("voice tables %s: %w", path, err)
	}
	return tables, nil
}

// ParseTables builds the per-role tables from YAML. Every role's table
// starts as a copy of the default entries, overlaid with the role's own.
func ParseTables(data []byte) (Tables, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	def, err := buildTable(file.Default)
	if err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}

	tables := Tables{RoleDefault: def}
	for role, specs := range map[Role][]entrySpec{
		RoleStreamer:   file.Streamer,
		RoleModerator:  file.Moderator,
		RoleVIP:        file.VIP,
		RoleSubscriber: file.Subscriber,
		RoleOthers:     file.Others,
		RoleSystem:     file.System,
	} {
		own, err := buildTable(specs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", role, err)
		}
		merged := make(Table, len(def)+len(own))
		for lang, entry := range def {
			merged[lang] = entry
		}
		for lang, entry := range own {
			merged[lang] = entry
		}
		tables[role] = merged
	}
	return tables, nil
}

func buildTable(specs []entrySpec) (Table, error) {
	table := make(Table, len(specs))
	for i, spec := range specs {
		lang := strings.ToLower(strings.TrimSpace(spec.Lang))
		if lang == "" {
			return nil, fmt.Errorf("entry %d: missing lang", i)
		}
		engine := strings.TrimSpace(spec.Engine)
		if engine == "" {
			return nil, fmt.Errorf("entry %d (%s): missing engine", i, lang)
		}
		params, err := ParseParamString(spec.Param)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, lang, err)
		}
		params.Cast = strings.TrimSpace(spec.Cast)
		table[lang] = Entry{Language: lang, Engine: engine, Voice: params}
	}
	return table, nil
}

// Engines returns the distinct engine names referenced anywhere in the
// tables, sorted for stable iteration.
func (t Tables) Engines() []string {
	seen := map[string]bool{}
	for _, table := range t {
		for _, entry := range table {
			if entry.Engine != "" {
				seen[entry.Engine] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Casts returns the distinct cast identifiers the tables assign to the
// named engine.
func (t Tables) Casts(engine string) []string {
	seen := map[string]bool{}
	for _, table := range t {
		for _, entry := range table {
			if entry.Engine == engine && entry.Voice.Cast != "" {
				seen[entry.Voice.Cast] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for cast := range seen {
		out = append(out, cast)
	}
	sort.Strings(out)
	return out
}
