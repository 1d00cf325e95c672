// Package netboot brings up the station Wi-Fi link through NetworkManager
// and waits for the interface to report an IPv4 address.
package netboot

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/exec"
	"strings"
	"time"
)

const connName = "homesec-client"

type Config struct {
	Enable    bool
	SSID      string
	Password  string
	Interface string
	Timeout   time.Duration
}

var runCmd = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

var interfaceAddrs = func(name string) ([]net.Addr, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return ifi.Addrs()
}

var pollInterval = 100 * time.Millisecond

// Connect joins cfg.SSID on cfg.Interface and blocks until an IPv4 address
// shows up or the timeout (or ctx) expires. It returns a nil address and no
// error when cfg.Enable is false.
func Connect(ctx context.Context, cfg Config) (net.IP, error) {
	if !cfg.Enable {
		return nil, nil
	}
	if strings.TrimSpace(cfg.SSID) == "" {
		return nil, fmt.Errorf("netboot: ssid is required")
	}
	if cfg.Interface == "" {
		cfg.Interface = "wlan0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	// The image ships wlan0 unmanaged; hand it to NetworkManager.
	_, _ = runCmd(ctx, "nmcli", "dev", "set", cfg.Interface, "managed", "yes")
	// Drop any stale profile so repeated boots do not pile up duplicates.
	_, _ = runCmd(ctx, "nmcli", "con", "delete", connName)

	args := []string{
		"device", "wifi", "connect", cfg.SSID,
		"ifname", cfg.Interface,
		"name", connName,
	}
	if cfg.Password != "" {
		args = append(args, "password", cfg.Password)
	}
	log.Printf("netboot: connecting ssid=%q ifname=%s", cfg.SSID, cfg.Interface)
	if out, err := runCmd(ctx, "nmcli", args...); err != nil {
		return nil, fmt.Errorf("netboot: connect %q failed: %w, output: %s", cfg.SSID, err, strings.TrimSpace(string(out)))
	}

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		addrs, err := interfaceAddrs(cfg.Interface)
		if err == nil {
			if ip := FirstIPv4(addrs); ip != nil {
				log.Printf("netboot: connected ifname=%s ip=%s", cfg.Interface, ip)
				return ip, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("netboot: no IPv4 address on %s: %w", cfg.Interface, ctx.Err())
		case <-t.C:
		}
	}
}

// FirstIPv4 returns the first routable IPv4 address in addrs, skipping
// loopback and link-local addresses.
func FirstIPv4(addrs []net.Addr) net.IP {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip4 := ip.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() || ip4.IsUnspecified() {
			continue
		}
		return ip4
	}
	return nil
}
