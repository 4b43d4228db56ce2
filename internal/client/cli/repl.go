package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/expiryx/internal/client/services"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

type command func(ctx context.Context, args []string) error

// commander is the command surface the REPL dispatches to. The real App
// satisfies it; tests provide a stub.
type commander interface {
	unlocked() bool
	Wallet(ctx context.Context, args []string) error
	Lock(ctx context.Context) error
	Grant(ctx context.Context, args []string) error
	Share(ctx context.Context, args []string) error
	Spend(ctx context.Context, args []string) error
	Revoke(ctx context.Context, args []string) error
	Extend(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Refresh(ctx context.Context, args []string) error
	Summary(ctx context.Context, args []string) error
	Download(ctx context.Context, args []string) error
	Export(ctx context.Context, args []string) error
	Prune(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Sim(ctx context.Context, args []string) error
}

var usage = map[string]string{
	"wallet":   "wallet create|unlock|address",
	"grant":    "grant <spender> <amount> <expiry> [view|download|full]",
	"share":    "share <file> <spender> <amount> <expiry> [download|full]",
	"spend":    "spend <id> <amount> [recipient]",
	"revoke":   "revoke <id>",
	"extend":   "extend <id> <expiry>",
	"list":     "list [owner|spender] [active|expired|fully_spent|revoked]",
	"show":     "show <id>",
	"refresh":  "refresh [id]",
	"download": "download <id> [dir]",
	"export":   "export <file>",
	"prune":    "prune [age, e.g. 30d]",
	"sim":      "sim export <file> | sim clear",
}

const (
	helpLocked   = "Available commands: wallet, status, export, prune, sim, exit"
	helpUnlocked = "Available commands: grant, share, spend, revoke, extend, (l)ist, show, refresh, summary, download, status, export, prune, sim, lock, exit"
)

// runREPL starts a read–eval–print loop over a.
//
// It reads a line from scanner, parses the first token as the command and
// dispatches the remaining tokens to it. Command errors are described to
// the user and never end the loop. The loop exits on scanner EOF or when
// the user types "exit" or "quit".
func runREPL(ctx context.Context, a commander, statusFn func() string, scanner *bufio.Scanner) {
	commands := map[string]command{
		"wallet":   a.Wallet,
		"grant":    a.Grant,
		"share":    a.Share,
		"spend":    a.Spend,
		"revoke":   a.Revoke,
		"extend":   a.Extend,
		"list":     a.List,
		"l":        a.List,
		"show":     a.Show,
		"refresh":  a.Refresh,
		"summary":  a.Summary,
		"download": a.Download,
		"export":   a.Export,
		"prune":    a.Prune,
		"status":   a.Status,
		"sim":      a.Sim,
		"lock": func(ctx context.Context, _ []string) error {
			return a.Lock(ctx)
		},
	}

	for {
		printlnFn(fmt.Sprintf("expiryx (%s) > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.unlocked() {
				printlnFn(helpUnlocked)
			} else {
				printlnFn(helpLocked)
			}
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		run, ok := commands[cmd]
		if !ok {
			printlnFn("Unknown command:", cmd)
			continue
		}
		if err := run(ctx, args); err != nil {
			reportError(cmd, err)
		}
	}
}

func reportError(cmd string, err error) {
	if errors.Is(err, errUsage) {
		name := cmd
		if name == "l" {
			name = "list"
		}
		printlnFn("Usage:", usage[name])
		return
	}
	var ue userError
	if errors.As(err, &ue) {
		printlnFn(ue.Error())
		return
	}
	printlnFn("Error:", services.Describe(err))
}
