package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aussiebroadwan/marketsync/internal/client/cli"
	"github.com/aussiebroadwan/marketsync/internal/client/domain"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", domain.UserMessage(err))
		fmt.Fprintf(os.Stderr, "detail: %v\n", err)
		os.Exit(1)
	}
}
