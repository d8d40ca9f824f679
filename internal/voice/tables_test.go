package voice

import (
	"os"
	"path/filepath"
	"testing"
)

const tableYAML = `
default:
  - lang: ja
    engine: voicevox
    cast: "3"
    param: v100,s100
  - lang: all
    engine: gtts
    param: ""
streamer:
  - lang: ja
    engine: voicevox
    cast: "8"
    param: v100,s1.2
system:
  - lang: en
    engine: gtts
`

func TestParseTablesDefaultMerge(t *testing.T) {
	tables, err := ParseTables([]byte(tableYAML))
	if err != nil {
		t.Fatalf("ParseTables() error = %v", err)
	}

	// The streamer table keeps the default wildcard and overrides ja.
	streamer := tables[RoleStreamer]
	if got := streamer["ja"].Voice.Cast; got != "8" {
		t.Fatalf("streamer ja cast = %q, want 8", got)
	}
	if got := streamer["ja"].Voice.SpeedOr(0); got != 120 {
		t.Fatalf("streamer ja speed = %d, want 120", got)
	}
	if got := streamer[LanguageAll].Engine; got != "gtts" {
		t.Fatalf("streamer wildcard engine = %q, want inherited gtts", got)
	}

	// Roles with no section of their own get the default entries.
	others := tables[RoleOthers]
	if got := others["ja"].Voice.Cast; got != "3" {
		t.Fatalf("others ja cast = %q, want 3", got)
	}

	// The system table layers its own entry onto the defaults.
	system := tables[RoleSystem]
	if got := system["en"].Engine; got != "gtts" {
		t.Fatalf("system en engine = %q, want gtts", got)
	}
	if _, ok := system["ja"]; !ok {
		t.Fatal("system table lost the default ja entry")
	}
}

func TestParseTablesRejectsIncompleteEntries(t *testing.T) {
	for name, data := range map[string]string{
		"missing lang":   "default:\n  - engine: voicevox\n",
		"missing engine": "default:\n  - lang: ja\n",
		"bad param":      "default:\n  - lang: ja\n    engine: voicevox\n    param: q50\n",
	} {
		if _, err := ParseTables([]byte(data)); err == nil {
			t.Errorf("ParseTables(%s) error = nil, want error", name)
		}
	}
}

func TestLoadTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	if err := os.WriteFile(path, []byte(tableYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	tables, err := LoadTables(path)
	if err != nil {
		t.Fatalf("LoadTables() error = %v", err)
	}
	if len(tables[RoleDefault]) != 2 {
		t.Fatalf("default table has %d entries, want 2", len(tables[RoleDefault]))
	}

	if _, err := LoadTables(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadTables(absent) error = nil, want error")
	}
}

func TestTablesEnginesAndCasts(t *testing.T) {
	tables, err := ParseTables([]byte(tableYAML))
	if err != nil {
		t.Fatalf("ParseTables() error = %v", err)
	}
	engines := tables.Engines()
	if len(engines) != 2 || engines[0] != "gtts" || engines[1] != "voicevox" {
		t.Fatalf("Engines() = %v, want [gtts voicevox]", engines)
	}
	casts := tables.Casts("voicevox")
	if len(casts) != 2 || casts[0] != "3" || casts[1] != "8" {
		t.Fatalf("Casts(voicevox) = %v, want [3 8]", casts)
	}
}
