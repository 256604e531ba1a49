package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the watch view until the user quits or ctx is done.
func Run(ctx context.Context, cfg WatchConfig) error {
	if cfg.Poll == nil {
		return fmt.Errorf("watch: no poll function")
	}
	if cfg.Count < 1 {
		return fmt.Errorf("watch: count must be at least 1")
	}
	program := tea.NewProgram(NewModel(ctx, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	return err
}
