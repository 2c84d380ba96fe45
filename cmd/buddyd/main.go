package main

import (
	"flag"

	"github.com/studybuddy/buddychat/internal/daemon"
	"github.com/studybuddy/buddychat/internal/paths"
	"go.uber.org/fx"
)

func main() {
	dataDirFlag := flag.String("data-dir", "", "data directory (default ~/.buddychat)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = paths.BaseDir()
	}

	app := fx.New(
		daemon.Module(daemon.Params{DataDir: dataDir, ListenAddr: *listenFlag}),
	)

	app.Run()
}
