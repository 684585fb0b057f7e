package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"

	"scuttlebot/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("scuttlebot", pflag.ContinueOnError)
	cfgPath := flags.StringP("config", "c", "./config.yaml", "path to config file (.yaml, .yml or .json)")
	check := flags.Bool("check", false, "validate the config file and exit")
	stopTimeout := flags.Duration("stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *check {
		if err := app.CheckConfig(*cfgPath); err != nil {
			return err
		}
		fmt.Println("config ok:", *cfgPath)
		return nil
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(*cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(context.Background()); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), *stopTimeout)
	defer cancel()
	if err := a.Stop(ctx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}
