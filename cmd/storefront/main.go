// storefront is the command line client for storefrontd.
//
//	storefront add cart 60 --price 18.00
//	storefront login --email ann@example.com --password secret
//	storefront list cart --format json
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"storefront-sync/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		if !cli.Reported(err) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
