// Copyright 2024 RMXFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vfs

import (
	"errors"
	"syscall"

	log "github.com/sirupsen/logrus"

	"rmxfs/internal/common"
)

// VFS error codes mapped to syscall errors
var (
	ENOENT    = syscall.ENOENT    // No such file or directory
	EEXIST    = syscall.EEXIST    // File exists
	ENOTDIR   = syscall.ENOTDIR   // Not a directory
	EISDIR    = syscall.EISDIR    // Is a directory
	EBADF     = syscall.EBADF     // Bad file descriptor
	EINVAL    = syscall.EINVAL    // Invalid argument
	ENOSYS    = syscall.ENOSYS    // Function not implemented
	EIO       = syscall.EIO       // I/O error
	EPERM     = syscall.EPERM     // Operation not permitted
	ENOTEMPTY = syscall.ENOTEMPTY // Directory not empty
)

// errnoTable is checked in order; the first sentinel matched wins.
var errnoTable = []struct {
	err   error
	errno syscall.Errno
}{
	{common.ErrNotFound, ENOENT},
	{common.ErrStale, ENOENT},
	{common.ErrExists, EEXIST},
	{common.ErrNameCollision, EEXIST},
	{common.ErrNotEmpty, ENOTEMPTY},
	{common.ErrUnsupported, ENOSYS},
	{common.ErrCycle, EINVAL},
	{common.ErrInvalidName, EINVAL},
	{common.ErrNotDir, ENOTDIR},
	{common.ErrIsDir, EISDIR},
	{common.ErrInvalidHandle, EBADF},
	{common.ErrPermission, EPERM},
	{common.ErrStorage, EIO},
}

// ToErrno resolves an error from the bridge into the errno the kernel sees.
// A raw syscall.Errno passes through; anything unrecognised becomes EIO.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for _, m := range errnoTable {
		if errors.Is(err, m.err) {
			if m.errno == EINVAL && errors.Is(err, common.ErrCycle) {
				log.Errorf("[VFS] rejected cyclic move: %v", err)
			}
			return m.errno
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	log.Warnf("[VFS] unmapped error, reporting EIO: %v", err)
	return EIO
}
