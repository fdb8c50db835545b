package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/piehook/piectl/cmd/piectl/cmds"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cmds.Execute(ctx)
	stop()
	os.Exit(code)
}
