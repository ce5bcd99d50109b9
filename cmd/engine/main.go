// Command engine runs the cross-exchange arbitrage bot.
//
// Architecture:
//
//	main.go             — entry point: wires cobra subcommands
//	engine/engine.go    — orchestrator: detector → strategy task → exchange manager, lifecycle
//	strategy/task.go    — per-(symbol,buy,sell) state machine: monitor, analyze, execute, exit
//	market/scanner.go   — detector: scans the aggregator for crossed spot/futures spreads
//	market/book.go      — aggregator: local order book/ticker mirror fed by venue WS feeds
//	exchange/manager.go — uniform parallel order placement/cancellation across venues
//	exchange/*.go       — per-venue REST/WS connectors (MEXC spot, Gate.io spot/futures)
//	risk/manager.go     — enforces per-task, global exposure, daily loss, and price-shock limits
//	store/store.go      — JSON file persistence for task contexts (crash recovery)
//
// How it makes money:
//
//	The bot opens delta-neutral spot/futures pairs when a cross-venue spread
//	clears the configured margin, then unwinds once the spread reverts or a
//	stop-loss/time horizon trips, capturing the entry-to-exit spread net of fees.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "engine",
		Short: "Cross-exchange cash-and-carry arbitrage bot",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "configs/config.yaml", "path to config file")

	root.AddCommand(newStartCmd())
	root.AddCommand(newTasksCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
