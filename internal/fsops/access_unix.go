//go:build unix

package fsops

import "golang.org/x/sys/unix"

// Permission probes use faccessat with the effective uid/gid, matching what
// an actual open/write/exec would be allowed to do. Probes degrade to a
// boolean; they never surface an error.

func (m *OSFilesystemManager) Readable(path string) bool {
	return unix.Faccessat(unix.AT_FDCWD, path, unix.R_OK, unix.AT_EACCESS) == nil
}

func (m *OSFilesystemManager) Writable(path string) bool {
	return unix.Faccessat(unix.AT_FDCWD, path, unix.W_OK, unix.AT_EACCESS) == nil
}

func (m *OSFilesystemManager) Executable(path string) bool {
	return unix.Faccessat(unix.AT_FDCWD, path, unix.X_OK, unix.AT_EACCESS) == nil
}
