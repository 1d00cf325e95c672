package netboot

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

type cmdRecorder struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (r *cmdRecorder) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := name + " " + strings.Join(args, " ")
	r.mu.Lock()
	r.calls = append(r.calls, line)
	r.mu.Unlock()
	if r.fail != "" && strings.Contains(line, r.fail) {
		return []byte("Error: No network with SSID found."), errors.New("exit status 10")
	}
	return nil, nil
}

func stubHooks(t *testing.T, rec *cmdRecorder, addrs func(string) ([]net.Addr, error)) {
	t.Helper()
	oldRun, oldAddrs, oldPoll := runCmd, interfaceAddrs, pollInterval
	runCmd = rec.run
	interfaceAddrs = addrs
	pollInterval = time.Millisecond
	t.Cleanup(func() {
		runCmd, interfaceAddrs, pollInterval = oldRun, oldAddrs, oldPoll
	})
}

func ipNet(s string) *net.IPNet {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestConnect_WaitsForAddress(t *testing.T) {
	rec := &cmdRecorder{}
	var polls int
	stubHooks(t, rec, func(name string) ([]net.Addr, error) {
		if name != "wlan1" {
			t.Errorf("interface=%q want wlan1", name)
		}
		polls++
		if polls < 3 {
			return []net.Addr{ipNet("fe80::1/64")}, nil
		}
		return []net.Addr{ipNet("fe80::1/64"), ipNet("192.168.1.42/24")}, nil
	})

	ip, err := Connect(context.Background(), Config{Enable: true, SSID: "home", Password: "secret", Interface: "wlan1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ip.String() != "192.168.1.42" {
		t.Fatalf("ip=%s want 192.168.1.42", ip)
	}

	want := "nmcli device wifi connect home ifname wlan1 name homesec-client password secret"
	var found bool
	for _, c := range rec.calls {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("calls=%q missing %q", rec.calls, want)
	}
}

func TestConnect_CommandFailure(t *testing.T) {
	rec := &cmdRecorder{fail: "wifi connect"}
	stubHooks(t, rec, func(string) ([]net.Addr, error) {
		t.Fatalf("addresses polled after failed connect")
		return nil, nil
	})
	_, err := Connect(context.Background(), Config{Enable: true, SSID: "home"})
	if err == nil || !strings.Contains(err.Error(), "No network with SSID") {
		t.Fatalf("err=%v", err)
	}
}

func TestConnect_TimesOutWithoutAddress(t *testing.T) {
	rec := &cmdRecorder{}
	stubHooks(t, rec, func(string) ([]net.Addr, error) { return nil, errors.New("no such interface") })

	_, err := Connect(context.Background(), Config{Enable: true, SSID: "home", Timeout: 20 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}

func TestConnect_RequiresSSID(t *testing.T) {
	if _, err := Connect(context.Background(), Config{Enable: true, SSID: "  "}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConnect_DisabledDoesNothing(t *testing.T) {
	rec := &cmdRecorder{}
	stubHooks(t, rec, func(string) ([]net.Addr, error) {
		t.Fatalf("addresses polled while disabled")
		return nil, nil
	})
	ip, err := Connect(context.Background(), Config{SSID: "home"})
	if err != nil || ip != nil {
		t.Fatalf("ip=%v err=%v want nil nil", ip, err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("commands run while disabled: %q", rec.calls)
	}
}

func TestFirstIPv4(t *testing.T) {
	tests := []struct {
		name  string
		addrs []net.Addr
		want  string
	}{
		{name: "empty", addrs: nil, want: "<nil>"},
		{name: "loopback only", addrs: []net.Addr{ipNet("127.0.0.1/8")}, want: "<nil>"},
		{name: "link local skipped", addrs: []net.Addr{ipNet("169.254.3.4/16"), ipNet("10.0.0.7/8")}, want: "10.0.0.7"},
		{name: "ipaddr", addrs: []net.Addr{&net.IPAddr{IP: net.ParseIP("172.16.0.9")}}, want: "172.16.0.9"},
		{name: "v6 only", addrs: []net.Addr{ipNet("2001:db8::1/64")}, want: "<nil>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstIPv4(tt.addrs).String(); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
