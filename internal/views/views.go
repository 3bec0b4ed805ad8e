package views

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"

	"game-sandbox/internal/channel"
	"game-sandbox/internal/conversation"
	"game-sandbox/internal/studio"
	"game-sandbox/internal/templates"
	"game-sandbox/internal/workspace"
)

// EntryData holds one chat entry ready for the "entry" template.
type EntryData struct {
	ID            int
	Speaker       string
	Phase         string
	HTML          template.HTML
	Streaming     bool
	HideAnimation bool
	Files         []string
}

// ChatData is the chat log panel.
type ChatData struct {
	Entries    []EntryData
	Generating bool
}

// FileTab is one file in the editor's file list.
type FileTab struct {
	Name     string
	Language string
	Selected bool
}

// EditorData is the code editor panel.
type EditorData struct {
	Files    []FileTab
	Selected string
	Language string
	Text     string
	Revision uint64
	Lines    int
}

// ConsoleLine is one captured console event.
type ConsoleLine struct {
	Kind  string
	Clock string
	Text  string
}

// ConsoleData is the console panel including the fix action.
type ConsoleData struct {
	Lines      []ConsoleLine
	ErrorCount int
	CanFix     bool
	Fixing     bool
}

// BannerData is the toast above the workspace.
type BannerData struct {
	Visible   bool
	Kind      string
	Text      string
	Reload    bool
	Transient bool
}

// StatusData drives the input area: quota indicator and button state.
type StatusData struct {
	QuotaText   string
	Exhausted   bool
	Generating  bool
	CanSend     bool
	CreatePhase string
	EditPhase   string
	Onboarding  bool
}

// PageData is everything the index page renders.
type PageData struct {
	Chat     ChatData
	Editor   EditorData
	Console  ConsoleData
	Banner   BannerData
	Status   StatusData
	Revision uint64
}

// LoadTemplates loads and parses all templates from the embedded filesystem.
func LoadTemplates() (*template.Template, error) {
	return template.New("").ParseFS(templates.TemplateFS, "templates/*.html")
}

// RenderText converts text to HTML with markdown support and autolink, then sanitizes it.
func RenderText(text string) template.HTML {
	html := blackfriday.Run([]byte(text),
		blackfriday.WithExtensions(
			blackfriday.CommonExtensions|blackfriday.Autolink))

	policy := bluemonday.UGCPolicy()
	safeHTML := policy.SanitizeBytes(html)

	if HasMarkdownElements(html) {
		return template.HTML(safeHTML)
	}
	return template.HTML(`<div class="preserve-breaks">` + string(safeHTML) + `</div>`)
}

// HasMarkdownElements checks if the rendered HTML contains actual markdown elements
// beyond just a simple paragraph wrapper.
func HasMarkdownElements(html []byte) bool {
	htmlStr := string(html)

	markdownIndicators := []string{
		"<h1", "<h2", "<h3", "<h4", "<h5", "<h6",
		"<ul", "<ol", "<li",
		"<blockquote",
		"<pre", "<code",
		"<table",
		"<strong", "<em",
		"<hr",
		"<a href=",
	}

	for _, indicator := range markdownIndicators {
		if strings.Contains(htmlStr, indicator) {
			return true
		}
	}

	return strings.Count(htmlStr, "<p>") > 1
}

// NewEntry converts a log entry. User text is escaped verbatim; assistant
// text is rendered as markdown.
func NewEntry(e conversation.Entry) EntryData {
	text := e.Text
	if e.Accumulated != "" {
		text = e.Accumulated
	}
	data := EntryData{
		ID:            e.ID,
		Speaker:       e.Speaker.String(),
		Phase:         e.Phase.String(),
		Streaming:     e.Streaming,
		HideAnimation: e.HideAnimation,
		Files:         e.Files.Names(),
	}
	if e.Speaker == conversation.SpeakerUser {
		data.HTML = template.HTML(`<div class="preserve-breaks">` + template.HTMLEscapeString(text) + `</div>`)
	} else {
		data.HTML = RenderText(text)
	}
	return data
}

// NewChat builds the chat panel.
func NewChat(snap studio.Snapshot) ChatData {
	entries := make([]EntryData, len(snap.Entries))
	for i, e := range snap.Entries {
		entries[i] = NewEntry(e)
	}
	return ChatData{Entries: entries, Generating: snap.Generating}
}

// NewEditor builds the editor panel for the selected file.
func NewEditor(snap studio.Snapshot) EditorData {
	tabs := make([]FileTab, len(snap.Files))
	for i, f := range snap.Files {
		tabs[i] = FileTab{
			Name:     f.Name,
			Language: workspace.Language(f.Name),
			Selected: f.Name == snap.Selected,
		}
	}
	text := snap.SelectedText()
	return EditorData{
		Files:    tabs,
		Selected: snap.Selected,
		Language: workspace.Language(snap.Selected),
		Text:     text,
		Revision: snap.Revision,
		Lines:    strings.Count(text, "\n") + 1,
	}
}

// NewConsole builds the console panel.
func NewConsole(snap studio.Snapshot) ConsoleData {
	lines := make([]ConsoleLine, len(snap.Console))
	for i, ev := range snap.Console {
		lines[i] = ConsoleLine{Kind: ev.Kind.String(), Clock: ev.Clock(), Text: ev.Text}
	}
	return ConsoleData{
		Lines:      lines,
		ErrorCount: snap.ErrorCount,
		CanFix:     snap.CanFix() && snap.HasSession,
		Fixing:     snap.Fixing,
	}
}

// NewBanner builds the toast.
func NewBanner(snap studio.Snapshot) BannerData {
	b := snap.Banner
	kind := "info"
	if b.Kind == studio.BannerError {
		kind = "error"
	}
	return BannerData{
		Visible:   b.Visible(),
		Kind:      kind,
		Text:      b.Text,
		Reload:    b.Reload,
		Transient: b.Transient,
	}
}

// NewStatus builds the input area state.
func NewStatus(snap studio.Snapshot) StatusData {
	return StatusData{
		QuotaText:   snap.QuotaText(),
		Exhausted:   snap.QuotaExhausted(),
		Generating:  snap.Generating,
		CanSend:     snap.CanSend(),
		CreatePhase: phaseClass(snap.CreatePhase),
		EditPhase:   phaseClass(snap.EditPhase),
		Onboarding:  snap.ShowOnboarding(),
	}
}

func phaseClass(p channel.Phase) string {
	switch p {
	case channel.PhaseOpen:
		return "open"
	case channel.PhaseConnecting:
		return "connecting"
	case channel.PhaseClosedWithError:
		return "error"
	default:
		return "closed"
	}
}

// NewPage builds the whole index page.
func NewPage(snap studio.Snapshot) PageData {
	return PageData{
		Chat:     NewChat(snap),
		Editor:   NewEditor(snap),
		Console:  NewConsole(snap),
		Banner:   NewBanner(snap),
		Status:   NewStatus(snap),
		Revision: snap.Revision,
	}
}

// Render executes one named template into a string.
func Render(tmpl *template.Template, name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
