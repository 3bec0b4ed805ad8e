//go:build e2e

package e2e

import (
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 15000.0

// openSandbox loads the page, closes the welcome dialog and waits until the
// chat accepts messages.
func openSandbox(t *testing.T, page playwright.Page) {
	t.Helper()
	_, err := page.Goto(baseURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	require.NoError(t, err)

	start := page.GetByRole("button", playwright.PageGetByRoleOptions{Name: "Get started"})
	if n, _ := start.Count(); n > 0 {
		require.NoError(t, start.Click())
		require.NoError(t, page.Locator("#onboarding").WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateDetached,
			Timeout: playwright.Float(waitTimeout),
		}))
	}

	_, err = page.WaitForSelector(`#status[data-can-send="true"]`, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(waitTimeout),
	})
	require.NoError(t, err)
}

// sendMessage submits text through the chat form.
func sendMessage(t *testing.T, page playwright.Page, text string) {
	t.Helper()
	input := page.Locator("#message-input")
	require.NoError(t, input.Fill(text))
	require.NoError(t, page.Locator("#send-button").Click())
}

// waitForFile waits until the editor lists name.
func waitForFile(t *testing.T, page playwright.Page, name string) {
	t.Helper()
	err := page.Locator(`#editor-tabs .tab[data-select="` + name + `"]`).WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(waitTimeout),
	})
	require.NoError(t, err)
}
