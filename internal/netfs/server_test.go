package netfs

import (
	"context"
	"net"
	"runtime"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmxfs/internal/storage"
	"rmxfs/internal/storage/storagetest"
	"rmxfs/internal/vfs"
)

func TestServerLifecycle(t *testing.T) {
	g := NewWithT(t)
	dir := storagetest.Reference(t)
	store, err := storage.NewStore(dir, nil)
	require.NoError(t, err)
	b, err := vfs.NewBridge(context.Background(), store, vfs.Options{})
	require.NoError(t, err)
	defer b.Close()

	srv := NewServer(b)
	assert.Nil(t, srv.Addr())
	assert.Error(t, srv.Serve(), "serve before listen")

	require.NoError(t, srv.Listen("127.0.0.1:0"))
	addr, ok := srv.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, addr.Port)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	conn.Close()

	srv.Shutdown()
	g.Eventually(done).WithTimeout(2 * time.Second).Should(Receive(BeNil()))

	// a second shutdown is a no-op
	srv.Shutdown()
}

func TestListenFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv := &Server{cancel: func() {}}
	err = srv.Listen(l.Addr().String())
	assert.ErrorContains(t, err, "failed to listen")
}

func TestMountCommand(t *testing.T) {
	t.Parallel()
	name, args := MountCommand("127.0.0.1", 20490, "/mnt/tablet")
	require.NotEmpty(t, args)
	assert.Equal(t, "127.0.0.1:/", args[len(args)-2])
	assert.Equal(t, "/mnt/tablet", args[len(args)-1])
	if runtime.GOOS == "darwin" {
		assert.Equal(t, "mount_nfs", name)
		assert.Contains(t, args[1], "nolocks")
	} else {
		assert.Equal(t, "mount", name)
		assert.Equal(t, []string{"-t", "nfs"}, args[:2])
		assert.Contains(t, args[3], "port=20490,mountport=20490")
	}
	assert.Contains(t, args, "-o")
}

func TestContainsMount(t *testing.T) {
	t.Parallel()
	table := "/dev/sda1 on / type ext4 (rw)\n" +
		"127.0.0.1:/ on /mnt/tablet type nfs (rw,vers=3)\n" +
		"127.0.0.1:/ on /mnt/tablet2 (nfs)"
	tests := []struct {
		mountPoint string
		want       bool
	}{
		{"/mnt/tablet", true},
		{"/mnt/tablet2", true},
		{"/mnt/table", false},
		{"/mnt", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsMount(table, tt.mountPoint), tt.mountPoint)
	}
}
