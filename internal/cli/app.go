// Package cli implements the interactive picocash command line client.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/picocash/picocash"
	"github.com/picocash/picocash/internal/cli/config"
)

// App wires the engine to the interactive command loop.
type App struct {
	config *config.Config
	client *picocash.Client
	reader *bufio.Reader
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	engineCfg := &picocash.Config{}
	engineCfg.LoadDefaults()
	engineCfg.DataDir = c.DataDir
	engineCfg.ServerScheme = c.ServerScheme
	engineCfg.ServerHostname = c.ServerHostname
	engineCfg.ServerPort = c.ServerPort
	engineCfg.RequestTimeout = c.RequestTimeout
	engineCfg.Requester = picocash.NewHTTPRequester(http.DefaultClient)

	client, err := picocash.New(ctx, engineCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	return &App{config: c, client: client, reader: bufio.NewReader(os.Stdin)}, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.client.Close()

	fmt.Println("picocash CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, scanner)
}

func (a *App) Refresh(ctx context.Context) error {
	res, err := a.client.RefreshState(ctx, false)
	if err != nil {
		fmt.Println("refresh failed:", err)
		return err
	}
	fmt.Println("refresh:", res.Status)
	if res.ReconnectRequired {
		fmt.Println("reconnect required")
	}
	return nil
}

func (a *App) Balance(ctx context.Context) error {
	n, err := a.client.Balance(ctx)
	if err != nil {
		fmt.Println("balance failed:", err)
		return err
	}
	fmt.Printf("balance: %.2f (%d units)\n", float64(n)/float64(picocash.UnitsPerDollar), n)
	return nil
}

func (a *App) Prices(ctx context.Context) error {
	pp, err := a.client.GetPurchasePrices(ctx)
	if err != nil {
		fmt.Println("prices failed:", err)
		return err
	}
	for _, p := range pp {
		fmt.Printf("%s/%s: %d\n", p.Class, p.Distinguisher, p.Price)
	}
	return nil
}

func (a *App) Purchases(ctx context.Context) error {
	ps, err := a.client.GetPurchases(ctx)
	if err != nil {
		fmt.Println("purchases failed:", err)
		return err
	}
	for _, p := range ps {
		expiry := "never"
		if p.Expiry != nil {
			expiry = p.Expiry.String()
		}
		fmt.Printf("%s %s/%s expires %s\n", p.ID, p.Class, p.Distinguisher, expiry)
	}
	return nil
}

// Buy performs a purchase; args are class, distinguisher and expected
// price in units.
func (a *App) Buy(ctx context.Context, args []string) error {
	if len(args) != 3 {
		fmt.Println("Usage: buy <class> <distinguisher> <price>")
		return nil
	}
	price, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		fmt.Println("bad price:", args[2])
		return nil
	}

	res, err := a.client.NewExpiringPurchase(ctx, args[0], args[1], price)
	if err != nil {
		fmt.Println("purchase failed:", err)
		return err
	}
	fmt.Println("purchase:", res.Status)
	if res.Purchase != nil {
		fmt.Println("id:", res.Purchase.ID)
	}
	return nil
}

func (a *App) Login(ctx context.Context) error {
	username, err := GetSimpleText(a.reader, "Username", os.Stdout)
	if err != nil {
		return err
	}
	password, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}

	res, err := a.client.AccountLogin(ctx, username, string(password))
	if err != nil {
		fmt.Println("login failed:", err)
		return err
	}
	fmt.Println("login:", res.Status)
	if res.LastTrackerMerge != nil && *res.LastTrackerMerge {
		fmt.Println("note: this was the last allowed balance merge for this device")
	}
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	res, err := a.client.AccountLogout(ctx)
	if err != nil {
		fmt.Println("logout failed:", err)
		return err
	}
	if res.ReconnectRequired {
		fmt.Println("reconnect required")
	}
	fmt.Println("logged out")
	return nil
}

func (a *App) Reset(ctx context.Context) error {
	if err := a.client.ResetUser(ctx); err != nil {
		fmt.Println("reset failed:", err)
		return err
	}
	fmt.Println("user state reset")
	return nil
}

func (a *App) Diag(ctx context.Context) error {
	info, err := a.client.GetDiagnosticInfo(ctx, false)
	if err != nil {
		fmt.Println("diag failed:", err)
		return err
	}
	fmt.Printf("tokens=%v account=%v balance=%d purchases=%d\n",
		info.ValidTokenTypes, info.IsAccount, info.Balance, info.PurchaseCount)
	return nil
}
