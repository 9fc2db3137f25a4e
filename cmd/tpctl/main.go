package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/noah-isme/tp-workflow-api/internal/cli"
	"github.com/noah-isme/tp-workflow-api/pkg/middleware/requestid"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = requestid.WithContext(ctx, "tpctl-"+uuid.NewString()[:8])

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error: ")+err.Error())
		if hint := cli.Hint(err); hint != "" {
			fmt.Fprintln(os.Stderr, color.New(color.FgHiBlack).Sprint(hint))
		}
		if id := cli.RequestID(err); id != "" {
			fmt.Fprintln(os.Stderr, color.New(color.FgHiBlack).Sprint("request id: "+id))
		}
		stop()
		os.Exit(1)
	}
}
