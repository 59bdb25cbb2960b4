package main

import (
	"context"
	"os"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
