package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to
// operate. The real App type satisfies this interface; tests can provide
// a lightweight stub.
type execIface interface {
	Refresh(ctx context.Context) error
	Balance(ctx context.Context) error
	Prices(ctx context.Context) error
	Purchases(ctx context.Context) error
	Buy(ctx context.Context, args []string) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Reset(ctx context.Context) error
	Diag(ctx context.Context) error
}

// runREPL reads a line from the scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are
// reported back to the user. The loop exits on scanner EOF or when the
// user types "exit" or "quit". Errors from handlers are ignored here;
// handlers print their own errors.
func runREPL(ctx context.Context, a execIface, scanner *bufio.Scanner) {
	for {
		printlnFn("pc> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			printlnFn("Available commands: refresh, (b)alance, prices, purchases, buy, login, logout, reset, diag, exit")

		case "refresh":
			_ = a.Refresh(ctx)

		case "b", "balance":
			_ = a.Balance(ctx)

		case "prices":
			_ = a.Prices(ctx)

		case "purchases":
			_ = a.Purchases(ctx)

		case "buy":
			_ = a.Buy(ctx, args)

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "reset":
			_ = a.Reset(ctx)

		case "diag":
			_ = a.Diag(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
