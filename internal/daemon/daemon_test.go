package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmxfs/internal/storage/storagetest"
)

func TestLockStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	lock, err := LockStore(dir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, LockFileName))
	assert.NoError(t, err)

	_, err = LockStore(dir)
	assert.ErrorIs(t, err, ErrStoreBusy)

	require.NoError(t, lock.Unlock())
	lock, err = LockStore(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
}

func TestOpen(t *testing.T) {
	t.Parallel()
	dir := storagetest.Reference(t)

	d, err := Open(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Bridge().Index().Len())

	attr, err := d.Bridge().StatPath("dolor/lorem.pdf")
	require.NoError(t, err)
	assert.Equal(t, uint64(storagetest.LoremPDFSize), attr.Size)

	// a second instance on the same store is refused
	_, err = Open(context.Background(), dir, nil)
	assert.ErrorIs(t, err, ErrStoreBusy)

	require.NoError(t, d.Close())
	d, err = Open(context.Background(), dir, nil)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = Open(context.Background(), filepath.Join(dir, "absent"), nil)
	assert.Error(t, err)
}

func TestOpenWithSettings(t *testing.T) {
	t.Parallel()
	dir := storagetest.Reference(t)

	settings := DefaultSettings()
	settings.DocumentTypes = []string{"pdf"}
	settings.MetricsListen = "127.0.0.1:0"
	d, err := Open(context.Background(), dir, settings)
	require.NoError(t, err)
	defer d.Close()
	assert.NotNil(t, d.registry)
	// epub records are skipped when only pdf is served
	assert.Equal(t, 3, d.Bridge().Index().Len())

	_, _, err = d.Bridge().CreatePath("amet.epub")
	assert.ErrorIs(t, err, syscall.ENOSYS)
}

func TestServeNFS(t *testing.T) {
	g := NewWithT(t)
	dir := storagetest.Reference(t)
	d, err := Open(context.Background(), dir, nil)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- d.ServeNFS(ctx, "127.0.0.1:0", "", func(a net.Addr) { addrCh <- a })
	}()

	var addr net.Addr
	g.Eventually(addrCh).WithTimeout(2 * time.Second).Should(Receive(&addr))
	require.NoError(t, waitForPort("127.0.0.1", addr.(*net.TCPAddr).Port, time.Second))

	cancel()
	g.Eventually(done).WithTimeout(3 * time.Second).Should(Receive(BeNil()))
}

func TestWaitForPortTimeout(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	err = waitForPort("127.0.0.1", port, 100*time.Millisecond)
	assert.ErrorContains(t, err, "timeout waiting for port")
}
