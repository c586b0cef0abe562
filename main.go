package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/replicate/rget/cmd"
	"github.com/replicate/rget/cmd/root"
	"github.com/replicate/rget/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.Execute(ctx, rootCMD)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
