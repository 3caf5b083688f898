package agent

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesaa/netscan/internal/traffic"
)

const procNetDev = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:  2000      20    0    0    0     0          0         0     2000      20    0    0    0     0       0          0
  eth0: 50000     100    3    7    0     0          0         0   101000     110    1    2    0     0       0          0
`

func TestParseProcNetDev(t *testing.T) {
	snap, err := ParseProcNetDev(strings.NewReader(procNetDev))
	require.NoError(t, err)

	assert.Equal(t, traffic.CounterSnapshot{
		BytesRecv:   52000,
		PacketsRecv: 120,
		ErrIn:       3,
		DropIn:      7,
		BytesSent:   103000,
		PacketsSent: 130,
		ErrOut:      1,
		DropOut:     2,
	}, snap)
}

func TestParseProcNetDevRejectsMalformed(t *testing.T) {
	bad := strings.Replace(procNetDev, "50000", "-50000", 1)
	_, err := ParseProcNetDev(strings.NewReader(bad))
	assert.ErrorIs(t, err, traffic.ErrInvalidSnapshot)

	short := "eth0: 1 2 3\n"
	_, err = ParseProcNetDev(strings.NewReader(short))
	assert.ErrorIs(t, err, traffic.ErrInvalidSnapshot)

	_, err = ParseProcNetDev(strings.NewReader("Inter-|   Receive\n"))
	assert.ErrorIs(t, err, ErrNoCounters)
}

type fakeRunner struct {
	out   string
	err   error
	block chan struct{}
}

func (f *fakeRunner) Run(cmd string) (string, error) {
	if f.block != nil {
		<-f.block
	}
	return f.out, f.err
}

func TestSSHSourceSnapshot(t *testing.T) {
	mock := clock.NewMock()
	src := newSSHSource(&fakeRunner{out: procNetDev}, mock)
	mock.Add(4 * time.Second)

	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 4, snap.Timestamp, 1e-9)
	assert.EqualValues(t, 103000, snap.BytesSent)
}

func TestSSHSourceErrors(t *testing.T) {
	boom := errors.New("session closed")
	src := newSSHSource(&fakeRunner{err: boom}, clock.NewMock())
	_, err := src.Snapshot(context.Background())
	assert.ErrorIs(t, err, boom)

	block := make(chan struct{})
	defer close(block)
	src = newSSHSource(&fakeRunner{out: procNetDev, block: block}, clock.NewMock())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = src.Snapshot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadKey(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, []byte("PEM"), 0600))
	missing := filepath.Join(dir, "id_rsa")

	pem, err := readKey(keyFile, "")
	require.NoError(t, err)
	assert.Equal(t, "PEM", pem)

	pem, err = readKey("", "secret")
	require.NoError(t, err)
	assert.Empty(t, pem)

	pem, err = readKey(missing, "secret")
	require.NoError(t, err, "password auth should survive a missing key file")
	assert.Empty(t, pem)

	_, err = readKey(missing, "")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestDialSSHPasswordWithMissingKey(t *testing.T) {
	_, err := DialSSH("127.0.0.1:1", "root", "secret", filepath.Join(t.TempDir(), "id_rsa"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH dial")
	assert.NotContains(t, err.Error(), "reading SSH key")
}
