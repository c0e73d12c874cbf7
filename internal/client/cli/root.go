package cli

import (
	"context"
	"fmt"
)

func (a *App) getStatus() string {
	s := ""
	if a.session != nil && a.session.Username() != "" {
		s = a.session.Username() + " "
	}
	if m := a.mode(); m != "" {
		s = s + string(m)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Root asks for a login, starts the connectivity watcher and runs the REPL
// until the user exits.
func (a *App) Root(ctx context.Context) {
	a.printf("Welcome to couplesync (type 'help' for commands)\n")

	if a.isLoggedIn() {
		_ = a.Login(ctx, nil)
	}

	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	runREPL(ctx, a, a.getStatus, a.reader)
}
