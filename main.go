package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaelpento.lv/flashjit/cmd"
	"github.com/michaelpento.lv/flashjit/utils"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	defer utils.CleanupLogger()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
