// Command fieldserver is the FieldSync reference sync server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fieldsync/internal/server"
	"github.com/dmitrijs2005/fieldsync/internal/server/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := server.NewRootCommand(cfg).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
