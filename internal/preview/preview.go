// Package preview composes the workspace into the single document that runs
// inside the sandboxed preview frame.
package preview

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"game-sandbox/internal/workspace"
)

// ShimID is the id attribute of the console capture script.
const ShimID = "console-bridge"

// ContentSecurityPolicy is sent with every composed document. Without
// allow-same-origin the frame gets an opaque origin.
const ContentSecurityPolicy = "sandbox allow-scripts"

//go:embed shim.js
var shimSource string

var (
	bodyClose   = regexp.MustCompile(`(?i)</body\s*>`)
	scriptClose = regexp.MustCompile(`(?i)</script`)
)

// Shim returns the console capture script element.
func Shim() string {
	return `<script id="` + ShimID + `">` + "\n" + shimSource + `</script>`
}

// Compose returns index.html with the console shim and every other .js file
// inserted before the first </body>, or appended when there is none.
func Compose(files workspace.Files) (string, error) {
	doc, ok := files.Get(workspace.IndexFile)
	if !ok {
		return "", fmt.Errorf("compose preview: %w", workspace.ErrMissingIndex)
	}

	var scripts []string
	for _, f := range files {
		if f.Name == workspace.IndexFile || !strings.HasSuffix(f.Name, ".js") {
			continue
		}
		scripts = append(scripts, `<script data-file="`+attrEscape(f.Name)+`">`+neutralise(f.Content)+`</script>`)
	}
	injected := Shim() + strings.Join(scripts, "\n")

	loc := bodyClose.FindStringIndex(doc)
	if loc == nil {
		return doc + injected, nil
	}
	return doc[:loc[0]] + injected + doc[loc[0]:], nil
}

// neutralise keeps script text from closing its element early.
func neutralise(src string) string {
	return scriptClose.ReplaceAllStringFunc(src, func(m string) string {
		return `<\/` + m[2:]
	})
}

func attrEscape(s string) string {
	return strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;").Replace(s)
}
