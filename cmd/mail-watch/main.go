package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jobtrack/internal/config"
	"jobtrack/internal/connectors"
	"jobtrack/internal/listener"
	"jobtrack/internal/logging"
	"jobtrack/internal/storage"
	"jobtrack/internal/tracker"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	cfg, err := config.Load()
	must(err)
	log := logging.New(cfg)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	conn, err := connectors.New(cfg, db)
	must(err)
	svc := listener.NewService(connectors.NewScanService(conn, log), tracker.NewStore(cfg, db), db, cfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *once {
		res, err := svc.RunCycle(ctx)
		must(err)
		fmt.Println(res.Report.Message())
		if res.ExportPath != "" {
			fmt.Printf("review workbook: %s\n", res.ExportPath)
		}
		return
	}
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
