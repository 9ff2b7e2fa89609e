package inventory

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gpuwatchhq/gpuwatch/internal/config"
)

const defaultSSHTimeout = 10 * time.Second

// Runner executes a command on the monitored host and returns its stdout.
type Runner interface {
	Run(ctx context.Context, command string) ([]byte, error)
}

// Target describes how to reach the monitored host.
type Target struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KnownHostsPath string
	Timeout        time.Duration
}

// Address returns host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// TargetFor maps the remote section of the configuration to a Target.
func TargetFor(r config.RemoteConfig) Target {
	return Target{
		Host:           r.Host,
		Port:           r.Port,
		Username:       r.Username,
		Password:       r.Password,
		KnownHostsPath: r.KnownHosts,
		Timeout:        r.Timeout,
	}
}

// SSHRunner opens a fresh SSH connection for every command. The target is
// resolved on each call so a reloaded configuration applies to the next
// poll.
type SSHRunner struct {
	target func() Target
	logger zerolog.Logger

	insecureOnce sync.Once
}

// NewSSHRunner builds a runner reading its target from the provided func.
func NewSSHRunner(target func() Target, logger zerolog.Logger) *SSHRunner {
	return &SSHRunner{target: target, logger: logger}
}

// Run dials the target, executes command in a new session and returns the
// session's stdout. The connection is torn down when ctx is cancelled.
func (r *SSHRunner) Run(ctx context.Context, command string) ([]byte, error) {
	if r.target == nil {
		return nil, fmt.Errorf("ssh target is not configured")
	}
	target := r.target()
	if target.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = defaultSSHTimeout
	}

	clientConfig, err := r.clientConfig(target, timeout)
	if err != nil {
		return nil, err
	}

	addr := target.Address()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set deadline on %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session on %s: %w", addr, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if err := session.Run(command); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("run %q on %s: %w (stderr: %s)", command, addr, err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("run %q on %s: %w", command, addr, err)
	}
	return stdout.Bytes(), nil
}

func (r *SSHRunner) clientConfig(target Target, timeout time.Duration) (*ssh.ClientConfig, error) {
	hostKeyCallback, err := r.hostKeyCallback(target)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func (r *SSHRunner) hostKeyCallback(target Target) (ssh.HostKeyCallback, error) {
	if target.KnownHostsPath != "" {
		callback, err := knownhosts.New(target.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %q: %w", target.KnownHostsPath, err)
		}
		return callback, nil
	}
	r.insecureOnce.Do(func() {
		r.logger.Warn().
			Str("host", target.Host).
			Msg("remote.known_hosts not set; accepting any host key")
	})
	return ssh.InsecureIgnoreHostKey(), nil
}

var _ Runner = (*SSHRunner)(nil)
