package inventory

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gpuwatchhq/gpuwatch/internal/config"
)

func TestTargetFor(t *testing.T) {
	remote := config.RemoteConfig{
		Host:       "10.0.0.5",
		Port:       2222,
		Username:   "root",
		Password:   "secret",
		KnownHosts: "/etc/ssh/known_hosts",
		Timeout:    5 * time.Second,
	}
	target := TargetFor(remote)
	if target.Address() != "10.0.0.5:2222" {
		t.Fatalf("unexpected address %s", target.Address())
	}
	if target.KnownHostsPath != remote.KnownHosts || target.Timeout != remote.Timeout {
		t.Fatalf("unexpected target %+v", target)
	}
}

func TestSSHRunnerRequiresTarget(t *testing.T) {
	runner := NewSSHRunner(nil, zerolog.Nop())
	if _, err := runner.Run(context.Background(), "true"); err == nil {
		t.Fatal("expected error without target")
	}

	runner = NewSSHRunner(func() Target { return Target{} }, zerolog.Nop())
	if _, err := runner.Run(context.Background(), "true"); err == nil || !strings.Contains(err.Error(), "host is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSSHRunnerDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()

	runner := NewSSHRunner(func() Target {
		return Target{Host: "127.0.0.1", Port: addr.Port, Username: "root", Timeout: time.Second}
	}, zerolog.Nop())
	_, err = runner.Run(context.Background(), "true")
	if err == nil || !strings.Contains(err.Error(), "dial 127.0.0.1:"+strconv.Itoa(addr.Port)) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSSHRunnerMissingKnownHosts(t *testing.T) {
	runner := NewSSHRunner(func() Target {
		return Target{
			Host:           "127.0.0.1",
			Port:           22,
			Username:       "root",
			KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts"),
		}
	}, zerolog.Nop())
	_, err := runner.Run(context.Background(), "true")
	if err == nil || !strings.Contains(err.Error(), "load known_hosts") {
		t.Fatalf("unexpected error: %v", err)
	}
}
