package views

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"game-sandbox/internal/conversation"
	"game-sandbox/internal/studio"
	"game-sandbox/internal/workspace"
)

// genXSSPayload generates potentially malicious HTML/JS strings.
func genXSSPayload() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.Just("<script>alert('XSS')</script>"),
		rapid.Just("<img src=x onerror=alert(1)>"),
		rapid.Just("<svg onload=alert(1)>"),
		rapid.Just("<a href='javascript:alert(1)'>click</a>"),
		rapid.Just("<iframe src='javascript:alert(1)'></iframe>"),
		rapid.Custom(func(t *rapid.T) string {
			tag := rapid.SampledFrom([]string{"div", "span", "img", "a", "body", "svg", "input"}).Draw(t, "tag")
			handler := rapid.SampledFrom([]string{"onclick", "onerror", "onload", "onmouseover"}).Draw(t, "handler")
			return fmt.Sprintf("<%s %s=alert(1)>test</%s>", tag, handler, tag)
		}),
	)
}

func renderEntry(t require.TestingT, e conversation.Entry) *goquery.Document {
	tmpl, err := LoadTemplates()
	require.NoError(t, err)
	html, err := Render(tmpl, "entry", NewEntry(e))
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestPropEntriesNeverCarryScript(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := genXSSPayload().Draw(t, "payload")
		speaker := rapid.SampledFrom([]conversation.Speaker{conversation.SpeakerUser, conversation.SpeakerAssistant}).Draw(t, "speaker")
		doc := renderEntry(t, conversation.Entry{Speaker: speaker, Text: payload})

		body := doc.Find(".entry-body")
		if n := body.Find("script, iframe, svg, img[onerror], [onload], [onclick], [onmouseover], [onerror]").Length(); n > 0 {
			t.Fatalf("payload %q rendered %d active elements", payload, n)
		}
		body.Find("a").Each(func(_ int, a *goquery.Selection) {
			if href, _ := a.Attr("href"); strings.HasPrefix(strings.ToLower(href), "javascript:") {
				t.Fatalf("payload %q kept javascript href", payload)
			}
		})
	})
}

func TestUserTextIsVerbatim(t *testing.T) {
	doc := renderEntry(t, conversation.Entry{Speaker: conversation.SpeakerUser, Text: "**not bold** <b>x</b>"})
	require.Equal(t, "**not bold** <b>x</b>", doc.Find(".entry-body").Text())
	require.Equal(t, 0, doc.Find("strong, b").Length())
}

func TestAssistantTextIsMarkdown(t *testing.T) {
	doc := renderEntry(t, conversation.Entry{Speaker: conversation.SpeakerAssistant, Text: "Use **arrow keys**:\n\n- left\n- right"})
	require.Equal(t, 1, doc.Find(".entry-body strong").Length())
	require.Equal(t, 2, doc.Find(".entry-body li").Length())
}

func TestStreamingThoughtShowsAccumulatedText(t *testing.T) {
	doc := renderEntry(t, conversation.Entry{
		Speaker:     conversation.SpeakerAssistant,
		Phase:       conversation.PhaseStreamingThought,
		Text:        "first",
		Accumulated: "first\nsecond",
		Streaming:   true,
	})
	article := doc.Find("article")
	require.True(t, article.HasClass("streaming"))
	require.True(t, article.HasClass("phase-thinking"))
	require.Equal(t, 1, doc.Find(".spinner").Length())
	require.Contains(t, article.Text(), "second")
}

func TestFileDeltaListsFiles(t *testing.T) {
	doc := renderEntry(t, conversation.Entry{
		Speaker: conversation.SpeakerAssistant,
		Phase:   conversation.PhaseFileDelta,
		Text:    conversation.FilesUpdatedText,
		Files:   workspace.Files{{Name: "index.html"}, {Name: "game.js"}},
	})
	var names []string
	doc.Find(".entry-files li").Each(func(_ int, s *goquery.Selection) { names = append(names, s.Text()) })
	require.Equal(t, []string{"index.html", "game.js"}, names)
}

func TestNewEditorMarksSelection(t *testing.T) {
	snap := studio.Snapshot{
		Files:    workspace.Files{{Name: "index.html", Content: "<html></html>"}, {Name: "style.css", Content: "a{}\nb{}"}},
		Selected: "style.css",
		Revision: 4,
	}
	ed := NewEditor(snap)
	require.Equal(t, "css", ed.Language)
	require.Equal(t, "a{}\nb{}", ed.Text)
	require.Equal(t, 2, ed.Lines)
	require.False(t, ed.Files[0].Selected)
	require.True(t, ed.Files[1].Selected)
	require.Equal(t, "html", ed.Files[0].Language)
}

func TestNewStatusWithoutSession(t *testing.T) {
	st := NewStatus(studio.Snapshot{})
	require.Empty(t, st.QuotaText)
	require.True(t, st.CanSend)
	require.False(t, st.Onboarding)
	require.Equal(t, "closed", st.CreatePhase)
}

func TestBannerTemplateHiddenWhenEmpty(t *testing.T) {
	tmpl, err := LoadTemplates()
	require.NoError(t, err)
	html, err := Render(tmpl, "banner", NewBanner(studio.Snapshot{}))
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	_, hidden := doc.Find("#banner").Attr("hidden")
	require.True(t, hidden)
}

func TestIndexRendersEveryRegion(t *testing.T) {
	tmpl, err := LoadTemplates()
	require.NoError(t, err)
	snap := studio.Snapshot{
		Entries: []conversation.Entry{{ID: 1, Speaker: conversation.SpeakerUser, Text: "make snake"}},
	}
	html, err := Render(tmpl, "index", NewPage(snap))
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	for _, id := range []string{"chat", "status", "banner", "editor", "console", "preview", "entry-1"} {
		require.Equal(t, 1, doc.Find("#"+id).Length(), "missing #%s", id)
	}
	require.Contains(t, doc.Find("#entry-1 .entry-body").Text(), "make snake")
}
