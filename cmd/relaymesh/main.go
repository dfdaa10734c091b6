// Command relaymesh runs the relay host: it loads configuration, binds
// every configured rule's TCP/UDP workers plus the control plane, and
// blocks until SIGINT/SIGTERM. Grounded on Xray-core's main/run.go
// executeRun (load config, start server, wait on os.Signal, Close),
// trimmed down from xray's multi-command CLI to a single flag set.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaymesh/relaymesh/internal/config"
	"github.com/relaymesh/relaymesh/internal/host"
	"github.com/relaymesh/relaymesh/internal/rlog"
)

func main() {
	configFile := flag.String("config", "", "path to a JSON config file (overridden by the ENV_CONFIG env var)")
	flag.Parse()

	conf, err := config.Load(*configFile)
	if err != nil {
		fmt.Println("failed to load config:", err)
		os.Exit(23)
	}

	inst := host.New(conf)
	if err := inst.Start(); err != nil {
		fmt.Println("failed to start:", err)
		os.Exit(1)
	}
	defer inst.Close()

	rlog.Infof("relaymesh running, api on %s, %d rule(s) loaded", conf.API.AddrString(), len(conf.Endpoints))

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	<-osSignals

	rlog.Infof("shutting down")
}
