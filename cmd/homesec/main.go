package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"homesec-ng/internal/config"
	"homesec-ng/internal/netboot"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./homesec.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("homesec starting driver=%s backend=%s bus=%s", cfg.IMU.Driver, cfg.IMU.Backend, cfg.IMU.Bus)

	// The motion engine runs without a network; a failed join is logged only.
	if _, err := netboot.Connect(ctx, netboot.Config{
		Enable:    cfg.Network.Enable,
		SSID:      cfg.Network.SSID,
		Password:  cfg.Network.Password,
		Interface: cfg.Network.Interface,
		Timeout:   cfg.Network.Timeout,
	}); err != nil {
		log.Printf("network bring-up failed: %v", err)
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}

	<-ctx.Done()
	log.Printf("homesec stopping")
	rt.Close()
}
