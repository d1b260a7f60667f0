// Package envfile patches KEY=VALUE environment artifacts.
//
// Lines are kept as-is except for the line a key replaces. After every
// upsert the slice ends with exactly one empty line, so repeated patches of
// the same file are byte-stable.
package envfile

import (
	"os"
	"path/filepath"
	"strings"
)

// FileName is the artifact name inside an output directory.
const FileName = ".env"

// Entry is one key/value pair to upsert.
type Entry struct {
	Key   string
	Value string
}

// Upsert sets key to value. The first line whose prefix is "key="
// (case-insensitive) has its value replaced and keeps its key spelling;
// otherwise "key=value" is appended.
//
// Example:
//
//	Upsert([]string{"A=1", "B=2"}, "a", "9")
//	// []string{"A=9", "B=2", ""}
func Upsert(lines []string, key, value string) []string {
	out := make([]string, 0, len(lines)+2)
	out = append(out, lines...)

	for i, l := range out {
		if hasKey(l, key) {
			out[i] = l[:len(key)+1] + value
			return ensureTrailingBlank(out)
		}
	}
	out = append(trimTrailingBlank(out), key+"="+value)
	return ensureTrailingBlank(out)
}

// UpsertAll applies entries in order.
func UpsertAll(lines []string, entries []Entry) []string {
	out := lines
	for _, e := range entries {
		out = Upsert(out, e.Key, e.Value)
	}
	if len(entries) == 0 {
		out = ensureTrailingBlank(append([]string(nil), lines...))
	}
	return out
}

// Lookup returns the value of the first line matching key.
func Lookup(lines []string, key string) (string, bool) {
	for _, l := range lines {
		if hasKey(l, key) {
			return l[len(key)+1:], true
		}
	}
	return "", false
}

// hasKey reports whether line starts with key followed by '='. Only the
// key-length prefix of the line is folded, so byte offsets stay exact.
func hasKey(line, key string) bool {
	return len(line) > len(key) && line[len(key)] == '=' && strings.EqualFold(line[:len(key)], key)
}

// trimTrailingBlank drops trailing empty entries. Whitespace-only lines are content.
func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func ensureTrailingBlank(lines []string) []string {
	return append(trimTrailingBlank(lines), "")
}

// =============================================================================
// File I/O
// =============================================================================

// Path returns the artifact path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Read loads the lines of path. A missing file reads as empty.
func Read(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// Write stores lines joined by "\n", creating the parent directory.
func Write(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

// Patch reads path, upserts entries and writes the result back.
func Patch(path string, entries []Entry) error {
	lines, err := Read(path)
	if err != nil {
		return err
	}
	return Write(path, UpsertAll(lines, entries))
}
