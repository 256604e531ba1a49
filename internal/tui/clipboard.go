package tui

import (
	"errors"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

var errNoClipboard = errors.New("no clipboard utility available")

// clipboardCopyMsg is sent after a clipboard copy operation.
type clipboardCopyMsg struct {
	success bool
	err     error
}

// writeClipboard is replaced in tests.
var writeClipboard = func(text string) error {
	if clipboard.Unsupported {
		return errNoClipboard
	}
	return clipboard.WriteAll(text)
}

// copyToClipboard copies text to the system clipboard.
// Returns a tea.Cmd that will send a clipboardCopyMsg when complete.
func copyToClipboard(text string) tea.Cmd {
	return func() tea.Msg {
		if err := writeClipboard(text); err != nil {
			return clipboardCopyMsg{success: false, err: err}
		}
		return clipboardCopyMsg{success: true}
	}
}
