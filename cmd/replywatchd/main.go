package main

import (
	"flag"

	"github.com/matheus3301/replywatch/internal/daemon"
	"github.com/matheus3301/replywatch/internal/paths"
	"go.uber.org/fx"
)

func main() {
	homeFlag := flag.String("home", "", "data directory (overrides REPLYWATCH_HOME)")
	flag.Parse()

	home := paths.Resolve(*homeFlag)

	app := fx.New(
		daemon.Module(daemon.Params{Home: home}),
	)

	app.Run()
}
