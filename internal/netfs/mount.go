package netfs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// unmountTimeout bounds each unmount attempt; force unmount always
// returns quickly.
const unmountTimeout = 3 * time.Second

// Mount mounts the export at mountPath with the host's NFS client. It
// needs the privileges the host's mount command requires.
func Mount(ip string, port int, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0o755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	name, args := MountCommand(ip, port, mountPath)
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	log.Infof("[NFS] mounted %s:%d at %s", ip, port, mountPath)
	return nil
}

// MountCommand returns the command line that mounts the export.
// noac disables attribute caching so changes to the store are visible
// immediately; soft,timeo bounds how long the kernel waits on a dead
// server.
func MountCommand(ip string, port int, mountPath string) (string, []string) {
	p := strconv.Itoa(port)
	if runtime.GOOS == "darwin" {
		return "mount_nfs", []string{
			"-o", "port=" + p + ",mountport=" + p + ",tcp,nolocks,vers=3,rsize=65536,wsize=65536,noac,soft,timeo=50,retrans=3,nobrowse",
			ip + ":/", mountPath,
		}
	}
	return "mount", []string{
		"-t", "nfs",
		"-o", "port=" + p + ",mountport=" + p + ",tcp,nolock,vers=3,noac,soft,timeo=50,retrans=3",
		ip + ":/", mountPath,
	}
}

// Unmount unmounts mountPoint, escalating to a forced unmount.
func Unmount(mountPoint string) error {
	if !IsMounted(mountPoint) {
		log.Debugf("[NFS] Unmount: %s is not mounted, nothing to do", mountPoint)
		return nil
	}

	var lastErr error
	for _, args := range [][]string{{mountPoint}, {"-f", mountPoint}} {
		ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
		output, err := exec.CommandContext(ctx, "umount", args...).CombinedOutput()
		cancel()
		if err == nil {
			log.Infof("[NFS] unmounted %s", mountPoint)
			return nil
		}
		log.Warnf("[NFS] umount %v failed: %v, output: %s", args, err, strings.TrimSpace(string(output)))
		lastErr = err
	}
	return fmt.Errorf("all unmount attempts failed for %s: %w", mountPoint, lastErr)
}

// IsMounted checks the mount table for mountPoint.
func IsMounted(mountPoint string) bool {
	output, err := exec.Command("mount").Output()
	if err != nil {
		return false
	}
	// On macOS /tmp is /private/tmp in the mount table.
	realPath, err := filepath.EvalSymlinks(mountPoint)
	if err != nil {
		realPath = mountPoint
	}
	return containsMount(string(output), realPath)
}

// containsMount reports whether a "<source> on <mountPoint> ..." line is
// present in mount(8) output.
func containsMount(mountOutput, mountPoint string) bool {
	scanner := bufio.NewScanner(strings.NewReader(mountOutput))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, " on "+mountPoint+" ") || strings.HasSuffix(line, " on "+mountPoint) {
			return true
		}
	}
	return false
}
