// opsctl — operator CLI for the handlex exchange daemon.
//
// Usage:
//
//	opsctl [-addr http://localhost:8080] <command> [args]
//
//	trader create                          provision a funded trader
//	trader list                            list active traders
//	portfolio <trader_id>                  show cash and positions
//	order submit -trader ID -symbol S -side BUY|SELL -type T -qty N [-price 1.25] [-tif 3600]
//	order cancel <order_id> -trader ID     cancel a resting order
//	prices                                 market view for all symbols
//	symbols                                list tradable symbols
//	book <symbol>                          aggregated depth
//	trades <symbol> [-limit N]             recent executions
//	seed -shares N -par 1.00 [-step 0.05] [-rungs 4] [-tif 31536000]
//	                                       bootstrap the treasury share float
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "exchange daemon base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	client := resty.New().SetBaseURL(*addr)

	var err error
	switch args[0] {
	case "trader":
		err = runTrader(client, args[1:])
	case "portfolio":
		err = runPortfolio(client, args[1:])
	case "order":
		err = runOrder(client, args[1:])
	case "prices":
		err = show(client.R().Get("/api/prices"))
	case "symbols":
		err = show(client.R().Get("/api/symbols"))
	case "book":
		if len(args) < 2 {
			usage()
		}
		err = show(client.R().Get("/api/symbols/" + args[1] + "/book"))
	case "trades":
		err = runTrades(client, args[1:])
	case "seed":
		err = runSeed(client, args[1:])
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: opsctl [-addr URL] {trader|portfolio|order|prices|symbols|book|trades|seed} ...")
	os.Exit(2)
}

func runTrader(client *resty.Client, args []string) error {
	if len(args) < 1 {
		usage()
	}
	switch args[0] {
	case "create":
		return show(client.R().Post("/api/traders"))
	case "list":
		return show(client.R().Get("/api/traders"))
	default:
		usage()
	}
	return nil
}

func runPortfolio(client *resty.Client, args []string) error {
	if len(args) < 1 {
		usage()
	}
	return show(client.R().Get("/api/traders/" + args[0] + "/portfolio"))
}

func runOrder(client *resty.Client, args []string) error {
	if len(args) < 1 {
		usage()
	}
	switch args[0] {
	case "submit":
		return submitOrder(client, args[1:])
	case "cancel":
		if len(args) < 2 {
			usage()
		}
		fs := flag.NewFlagSet("order cancel", flag.ExitOnError)
		trader := fs.String("trader", "", "trader ID owning the order")
		fs.Parse(args[2:])
		return show(client.R().
			SetQueryParam("trader_id", *trader).
			Delete("/api/orders/" + args[1]))
	default:
		usage()
	}
	return nil
}

func submitOrder(client *resty.Client, args []string) error {
	fs := flag.NewFlagSet("order submit", flag.ExitOnError)
	trader := fs.String("trader", "", "trader ID")
	symbol := fs.String("symbol", "", "symbol, e.g. @elonmusk")
	side := fs.String("side", "", "BUY or SELL")
	typ := fs.String("type", "LIMIT", "MARKET, LIMIT or IOC")
	qty := fs.Int64("qty", 0, "share quantity")
	price := fs.String("price", "", "limit price in dollars, e.g. 1.25")
	tif := fs.Int64("tif", 0, "time in force in seconds (0 = server default)")
	fs.Parse(args)

	body := map[string]any{
		"trader_id":  *trader,
		"symbol":     *symbol,
		"side":       *side,
		"order_type": *typ,
		"quantity":   *qty,
	}
	if *tif > 0 {
		body["tif_seconds"] = *tif
	}
	if *price != "" {
		cents, err := parseCents(*price)
		if err != nil {
			return err
		}
		body["limit_price"] = cents
	}

	return show(client.R().SetBody(body).Post("/api/orders"))
}

func runTrades(client *resty.Client, args []string) error {
	if len(args) < 1 {
		usage()
	}
	fs := flag.NewFlagSet("trades", flag.ExitOnError)
	limit := fs.Int("limit", 0, "max trades to return")
	fs.Parse(args[1:])

	req := client.R()
	if *limit > 0 {
		req.SetQueryParam("limit", fmt.Sprint(*limit))
	}
	return show(req.Get("/api/symbols/" + args[0] + "/trades"))
}

func runSeed(client *resty.Client, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	shares := fs.Int64("shares", 0, "share float per symbol")
	par := fs.String("par", "", "par price in dollars, e.g. 1.00")
	step := fs.String("step", "0.05", "dollars between ladder rungs")
	rungs := fs.Int("rungs", 4, "number of ladder rungs")
	tif := fs.Int64("tif", 365*24*3600, "ladder time in force in seconds")
	fs.Parse(args)

	parCents, err := parseCents(*par)
	if err != nil {
		return err
	}
	stepCents, err := parseCents(*step)
	if err != nil {
		return err
	}

	return show(client.R().SetBody(map[string]any{
		"shares":    *shares,
		"par_price": parCents,
		"rung_step": stepCents,
		"rungs":     *rungs,
		"ask_tif":   *tif,
	}).Post("/admin/seed"))
}

// parseCents converts a dollar amount like "1.25" to integer cents,
// rejecting sub-cent precision and non-positive values.
func parseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, fmt.Errorf("price %q has sub-cent precision", s)
	}
	if !cents.IsPositive() {
		return 0, fmt.Errorf("price %q must be positive", s)
	}
	return cents.IntPart(), nil
}

// show prints the response body, pretty-printed when it is JSON, and turns
// non-2xx statuses into errors.
func show(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}

	var pretty map[string]any
	body := resp.Body()
	if json.Unmarshal(body, &pretty) == nil {
		if out, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			body = out
		}
	} else {
		var list []any
		if json.Unmarshal(body, &list) == nil {
			if out, err := json.MarshalIndent(list, "", "  "); err == nil {
				body = out
			}
		}
	}
	fmt.Println(string(body))

	if resp.IsError() {
		return fmt.Errorf("server returned %s", resp.Status())
	}
	return nil
}
