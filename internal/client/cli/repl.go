package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context, args []string) error
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context, args []string) error
	Pair(ctx context.Context, args []string) error
	Redeem(ctx context.Context, args []string) error
	Unlink(ctx context.Context, args []string) error
	Journal(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Memory(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Ping(ctx context.Context, args []string) error
	Ack(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Streak(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Outbox(ctx context.Context, args []string) error
	Dismiss(ctx context.Context, args []string) error
	Retry(ctx context.Context, args []string) error
}

type command struct {
	name    string
	aliases []string
	help    string
	// loggedIn commands are refused before a login.
	loggedIn bool
	run      func(execIface, context.Context, []string) error
}

var commands = []command{
	{name: "register", help: "create an account", run: execIface.Register},
	{name: "login", help: "log in (offline with cached credentials)", run: execIface.Login},
	{name: "logout", help: "log out and wipe local data", loggedIn: true, run: execIface.Logout},
	{name: "pair", help: "issue a pairing code for your partner", loggedIn: true, run: execIface.Pair},
	{name: "redeem", help: "redeem <code>: pair with your partner", loggedIn: true, run: execIface.Redeem},
	{name: "unlink", help: "dissolve the couple", loggedIn: true, run: execIface.Unlink},
	{name: "journal", aliases: []string{"j"}, help: "journal <mood> [tags]: write today's entry", loggedIn: true, run: execIface.Journal},
	{name: "edit", help: "edit <id> <mood> [tags]: rewrite your entry", loggedIn: true, run: execIface.Edit},
	{name: "delete", help: "delete <id>: remove an entry or a memory", loggedIn: true, run: execIface.Delete},
	{name: "memory", help: "memory <path> [caption]: share a photo", loggedIn: true, run: execIface.Memory},
	{name: "show", help: "show <memory-id> <file>: download a photo", loggedIn: true, run: execIface.Show},
	{name: "ping", help: "ping [note]: send a love ping", loggedIn: true, run: execIface.Ping},
	{name: "ack", help: "ack [id]: acknowledge love pings", loggedIn: true, run: execIface.Ack},
	{name: "list", aliases: []string{"l"}, help: "list [journal|memories|pings]", loggedIn: true, run: execIface.List},
	{name: "streak", help: "show the journaling streak", loggedIn: true, run: execIface.Streak},
	{name: "sync", help: "synchronize now", loggedIn: true, run: execIface.Sync},
	{name: "status", help: "show session, couple and outbox state", loggedIn: true, run: execIface.Status},
	{name: "outbox", help: "list unsynced changes, conflicts and failures", loggedIn: true, run: execIface.Outbox},
	{name: "dismiss", help: "dismiss <seq>: forget a conflict or failure", loggedIn: true, run: execIface.Dismiss},
	{name: "retry", help: "requeue failed changes", loggedIn: true, run: execIface.Retry},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
		for _, alias := range c.aliases {
			if alias == name {
				return c, true
			}
		}
	}
	return command{}, false
}

func printHelp(loggedIn bool) {
	printlnFn("Available commands:")
	for _, c := range commands {
		if c.loggedIn && !loggedIn || !c.loggedIn && loggedIn && c.name != "login" {
			continue
		}
		printlnFn(fmt.Sprintf("  %-9s %s", c.name, c.help))
	}
	printlnFn("  help      show this list")
	printlnFn("  exit      leave the program")
}

// runREPL starts a simple read–eval–print loop for the couplesync CLI.
//
// It reads a line from reader, parses the first token as the command and
// dispatches the remaining tokens to the matching method on 'a'. Commands that
// need a session are refused before login. The loop exits on EOF or when the
// user types "exit" or "quit".
//
// Any errors returned by command handlers are ignored here; handlers print
// their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("cs %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := strings.ToLower(parts[0]), parts[1:]

		switch name {
		case "help", "?":
			printHelp(a.isLoggedIn())
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		c, ok := lookup(name)
		switch {
		case !ok:
			printlnFn("Unknown command:", name)
		case c.loggedIn && !a.isLoggedIn():
			printlnFn("Please log in first")
		default:
			_ = c.run(a, ctx, args)
		}
	}
}
