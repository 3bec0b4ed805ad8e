package studio

// Toast texts shown to the user.
const (
	TextConnecting       = "Connecting to server..."
	TextConnected        = "Connected to server"
	TextUnavailable      = "Backend service is not available. Please try again later."
	TextServersBusy      = "Servers are busy. Please reload or try again later."
	TextEditLost         = "Edit connection lost. Please reload or try again later."
	TextQuotaReached     = "You've reached your daily message limit. Please try again tomorrow."
	TextNoErrorsToFix    = "No console errors to fix."
	TextGreeting         = "Hello! I can help you modify and test your game code."
	TextFixRequest       = "Fix all console errors in the game files."
	TextLimitReached     = "Daily message limit reached"
	textRemainingPattern = "%d messages remaining today"
)

// BannerKind distinguishes informational toasts from failures.
type BannerKind int

const (
	BannerNone BannerKind = iota
	BannerInfo
	BannerError
)

// Banner is the toast currently shown above the workspace.
type Banner struct {
	Kind BannerKind
	Text string
	// Reload offers the reconnect action.
	Reload bool
	// Transient toasts hide themselves after a few seconds.
	Transient bool
}

// Visible reports whether a toast should be rendered.
func (b Banner) Visible() bool {
	return b.Kind != BannerNone && b.Text != ""
}

func infoBanner(text string, transient bool) Banner {
	return Banner{Kind: BannerInfo, Text: text, Transient: transient}
}

func errorBanner(text string, reload bool) Banner {
	return Banner{Kind: BannerError, Text: text, Reload: reload}
}
