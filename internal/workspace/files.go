package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// File is one named source file of the game.
type File struct {
	Name    string
	Content string
}

// Files is an ordered filename -> source mapping. It encodes as a JSON object
// whose key order follows the slice order, and decodes keeping the order the
// keys appear on the wire.
type Files []File

// Get returns the content of the named file.
func (f Files) Get(name string) (string, bool) {
	for _, file := range f {
		if file.Name == name {
			return file.Content, true
		}
	}
	return "", false
}

// Names returns the filenames in order.
func (f Files) Names() []string {
	names := make([]string, len(f))
	for i, file := range f {
		names[i] = file.Name
	}
	return names
}

// Map returns an unordered copy keyed by filename.
func (f Files) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, file := range f {
		m[file.Name] = file.Content
	}
	return m
}

// Clone returns a copy that shares no backing array with f.
func (f Files) Clone() Files {
	if f == nil {
		return nil
	}
	out := make(Files, len(f))
	copy(out, f)
	return out
}

// Equal reports whether both sets hold the same names, contents and order.
func (f Files) Equal(other Files) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if f[i] != other[i] {
			return false
		}
	}
	return true
}

// MarshalJSON writes the files as a JSON object in slice order.
func (f Files) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, file := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(file.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(file.Content)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of filename -> text. Entries whose value
// is not a string are skipped; a repeated key overwrites the earlier content
// in its original position.
func (f *Files) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("files: expected JSON object, got %v", tok)
	}

	var out Files
	positions := make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("files: invalid key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '"' {
			continue
		}
		var content string
		if err := json.Unmarshal(raw, &content); err != nil {
			return err
		}

		if i, seen := positions[name]; seen {
			out[i].Content = content
			continue
		}
		positions[name] = len(out)
		out = append(out, File{Name: name, Content: content})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = out
	return nil
}

// Language maps a filename to the editor language used to highlight it.
func Language(name string) string {
	ext := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		ext = name[i+1:]
	}
	switch strings.ToLower(ext) {
	case "html":
		return "html"
	case "css":
		return "css"
	default:
		return "javascript"
	}
}
