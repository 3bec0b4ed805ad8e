package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// genFiles generates a workspace-valid ordered file set that always contains index.html.
func genFiles() *rapid.Generator[Files] {
	return rapid.Custom(func(t *rapid.T) Files {
		n := rapid.IntRange(0, 6).Draw(t, "extra")
		files := Files{{Name: IndexFile, Content: rapid.String().Draw(t, "index")}}
		seen := map[string]bool{IndexFile: true}
		for i := 0; i < n; i++ {
			name := rapid.StringMatching(`[a-z]{1,8}\.(js|css|json)`).Draw(t, fmt.Sprintf("name%d", i))
			if seen[name] {
				continue
			}
			seen[name] = true
			files = append(files, File{Name: name, Content: rapid.String().Draw(t, fmt.Sprintf("content%d", i))})
		}
		pos := rapid.IntRange(0, len(files)-1).Draw(t, "indexPos")
		files[0], files[pos] = files[pos], files[0]
		return files
	})
}

// TestPropReplaceAllIsExact verifies that after ReplaceAll the workspace equals
// the replacement exactly, with no keys carried over from before.
func TestPropReplaceAllIsExact(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		before := genFiles().Draw(t, "before")
		after := genFiles().Draw(t, "after")

		ws, err := New(before)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		rev := ws.Revision()

		if err := ws.ReplaceAll(after); err != nil {
			t.Fatalf("ReplaceAll: %v", err)
		}
		if !ws.Files().Equal(after) {
			t.Fatalf("workspace %v != replacement %v", ws.Files(), after)
		}
		for _, f := range before {
			if _, ok := after.Get(f.Name); !ok && ws.Has(f.Name) {
				t.Fatalf("stale key %q carried over", f.Name)
			}
		}
		if ws.Revision() != rev+1 {
			t.Fatalf("revision should advance by one, got %d -> %d", rev, ws.Revision())
		}
	})
}

// TestPropFilesJSONPreservesOrder verifies that the ordered mapping survives
// the wire in the order it was written.
func TestPropFilesJSONPreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		files := genFiles().Draw(t, "files")
		data, err := json.Marshal(files)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded Files
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !decoded.Equal(files) {
			t.Fatalf("order not preserved: %v -> %v", files, decoded)
		}
	})
}

func TestReplaceAllRejectsMissingIndex(t *testing.T) {
	ws, err := New(Starter())
	if err != nil {
		t.Fatal(err)
	}
	rev := ws.Revision()

	err = ws.ReplaceAll(Files{{Name: "game.js", Content: "x"}})
	if !errors.Is(err, ErrMissingIndex) {
		t.Fatalf("expected ErrMissingIndex, got %v", err)
	}
	if ws.Revision() != rev {
		t.Error("failed ReplaceAll must not advance the revision")
	}
	if !ws.Has("script.js") {
		t.Error("failed ReplaceAll must leave the workspace untouched")
	}
}

func TestReplaceAllRejectsDuplicates(t *testing.T) {
	ws, _ := New(Starter())
	err := ws.ReplaceAll(Files{{Name: IndexFile}, {Name: "a.js"}, {Name: "a.js"}})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestSetAndGet(t *testing.T) {
	ws, _ := New(Starter())

	if _, err := ws.Get("missing.js"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rev := ws.Revision()
	if err := ws.Set("script.js", "console.log(1)"); err != nil {
		t.Fatal(err)
	}
	got, err := ws.Get("script.js")
	if err != nil || got != "console.log(1)" {
		t.Fatalf("Get after Set = %q, %v", got, err)
	}
	if ws.Revision() != rev+1 {
		t.Error("Set should advance the revision")
	}

	if err := ws.Set("level.js", "// new"); err != nil {
		t.Fatal(err)
	}
	names := ws.Names()
	if names[len(names)-1] != "level.js" {
		t.Errorf("new file should be appended, got %v", names)
	}
	if err := ws.Set("", "x"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}

func TestFilesUnmarshalSkipsNonStrings(t *testing.T) {
	var files Files
	raw := `{"index.html":"<html></html>","is_not_related_to_game":false,"game.js":"run()","index.html":"<body></body>"}`
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		t.Fatal(err)
	}
	want := Files{{Name: "index.html", Content: "<body></body>"}, {Name: "game.js", Content: "run()"}}
	if !files.Equal(want) {
		t.Fatalf("got %v, want %v", files, want)
	}

	if err := json.Unmarshal([]byte(`["index.html"]`), &files); err == nil {
		t.Error("array payload should fail")
	}
}

func TestLanguage(t *testing.T) {
	cases := map[string]string{
		"index.html": "html",
		"style.CSS":  "css",
		"game.js":    "javascript",
		"README":     "javascript",
	}
	for name, want := range cases {
		if got := Language(name); got != want {
			t.Errorf("Language(%q) = %q, want %q", name, got, want)
		}
	}
}
