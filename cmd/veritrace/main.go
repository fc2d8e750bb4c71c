// Package main starts the VeriTrace data reliability platform server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/veritrace/platform/internal/app/runtime"
	"github.com/veritrace/platform/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file (default: CONFIG_FILE or config/veritrace.yaml)")
	addr := flag.String("addr", "", "Override the API listen address (host:port)")
	flag.Parse()

	cfg, err := runtime.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		if err := applyAddr(cfg, *addr); err != nil {
			log.Fatalf("Invalid -addr %q: %v", *addr, err)
		}
	}

	app, err := runtime.NewWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialise platform: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down...", sig)
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}

	if err := app.Shutdown(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Platform stopped")
}

func applyAddr(cfg *config.Config, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("port %q out of range", portStr)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	cfg.Server.Port = port
	return nil
}

func init() {
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[veritrace] ")
}
