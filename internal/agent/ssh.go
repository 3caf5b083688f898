// SSH-based fallback counter source, for hosts (routers, appliances) that
// cannot run the scanner themselves but expose /proc/net/dev over SSH.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vesaa/netscan/internal/traffic"
	"golang.org/x/crypto/ssh"
)

// SSHClient wraps an authenticated SSH connection.
type SSHClient struct {
	client *ssh.Client
	host   string
}

// NewSSHClient dials the target host with password or key authentication.
func NewSSHClient(host, user, password, keyPEM string) (*SSHClient, error) {
	var authMethods []ssh.AuthMethod

	if keyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(keyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing SSH key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if password != "" {
		authMethods = append(authMethods, ssh.Password(password))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("SSH %s: no password or key configured", host)
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: verify against known_hosts
		Timeout:         15 * time.Second,
	}

	addr := host
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	return &SSHClient{client: client, host: host}, nil
}

// DialSSH is NewSSHClient with the key read from keyPath (if set).
func DialSSH(host, user, password, keyPath string) (*SSHClient, error) {
	keyPEM, err := readKey(keyPath, password)
	if err != nil {
		return nil, err
	}
	return NewSSHClient(host, user, password, keyPEM)
}

// readKey loads the private key at keyPath. A missing key file is tolerated
// when a password is available.
func readKey(keyPath, password string) (string, error) {
	if keyPath == "" {
		return "", nil
	}
	b, err := os.ReadFile(expandHome(keyPath))
	if errors.Is(err, fs.ErrNotExist) && password != "" {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading SSH key: %w", err)
	}
	return string(b), nil
}

// Host returns the address the client was dialed with.
func (s *SSHClient) Host() string { return s.host }

// Close cleanly shuts down the SSH connection.
func (s *SSHClient) Close() error { return s.client.Close() }

// Run executes a command and returns combined stdout+stderr.
func (s *SSHClient) Run(cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	out, err := sess.CombinedOutput(cmd)
	return string(out), err
}

// commandRunner is the part of SSHClient the source needs.
type commandRunner interface {
	Run(cmd string) (string, error)
}

const procNetDevCmd = "cat /proc/net/dev"

// SSHSource samples a remote host's aggregate interface counters.
type SSHSource struct {
	runner commandRunner
	clock  clock.Clock
	origin time.Time
}

// NewSSHSource builds a counter source on top of an SSH connection.
func NewSSHSource(client *SSHClient, clk clock.Clock) *SSHSource {
	return newSSHSource(client, clk)
}

func newSSHSource(r commandRunner, clk clock.Clock) *SSHSource {
	if clk == nil {
		clk = clock.New()
	}
	return &SSHSource{runner: r, clock: clk, origin: clk.Now()}
}

type runResult struct {
	out string
	err error
}

// Snapshot runs `cat /proc/net/dev` remotely. The timestamp is taken locally
// when the output arrives.
func (s *SSHSource) Snapshot(ctx context.Context) (*traffic.CounterSnapshot, error) {
	done := make(chan runResult, 1)
	go func() {
		out, err := s.runner.Run(procNetDevCmd)
		done <- runResult{out, err}
	}()

	var res runResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("remote %q: %w", procNetDevCmd, res.err)
	}

	snap, err := ParseProcNetDev(strings.NewReader(res.out))
	if err != nil {
		return nil, err
	}
	snap.Timestamp = s.clock.Since(s.origin).Seconds()
	return &snap, nil
}

// ParseProcNetDev sums the counters of every interface listed in a
// /proc/net/dev dump. Malformed counters are rejected with
// traffic.ErrInvalidSnapshot.
func ParseProcNetDev(r io.Reader) (traffic.CounterSnapshot, error) {
	var total traffic.CounterSnapshot
	sc := bufio.NewScanner(r)
	found := 0
	for sc.Scan() {
		line := sc.Text()
		name, rest, ok := strings.Cut(line, ":")
		if !ok || strings.Contains(name, "|") {
			continue // header lines
		}
		name = strings.TrimSpace(name)
		fields := strings.Fields(rest)
		if len(fields) < 16 {
			return traffic.CounterSnapshot{}, fmt.Errorf("%w: %s has %d fields", traffic.ErrInvalidSnapshot, name, len(fields))
		}

		// rx: bytes packets errs drop fifo frame compressed multicast
		// tx: bytes packets errs drop fifo colls carrier compressed
		var iface traffic.CounterSnapshot
		cols := []struct {
			field string
			pos   int
			dst   *uint64
		}{
			{"rx_bytes", 0, &iface.BytesRecv},
			{"rx_packets", 1, &iface.PacketsRecv},
			{"rx_errs", 2, &iface.ErrIn},
			{"rx_drop", 3, &iface.DropIn},
			{"tx_bytes", 8, &iface.BytesSent},
			{"tx_packets", 9, &iface.PacketsSent},
			{"tx_errs", 10, &iface.ErrOut},
			{"tx_drop", 11, &iface.DropOut},
		}
		for _, col := range cols {
			v, err := traffic.ParseCounter(name+"."+col.field, fields[col.pos])
			if err != nil {
				return traffic.CounterSnapshot{}, err
			}
			*col.dst = v
		}
		total = total.Add(iface)
		found++
	}
	if err := sc.Err(); err != nil {
		return traffic.CounterSnapshot{}, fmt.Errorf("reading /proc/net/dev: %w", err)
	}
	if found == 0 {
		return traffic.CounterSnapshot{}, ErrNoCounters
	}
	return total, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
