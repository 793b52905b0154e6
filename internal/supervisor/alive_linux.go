package supervisor

import "golang.org/x/sys/unix"

// exitPending reports whether the child pid has already exited but not
// yet been reaped. The status is left in place for cmd.Wait.
func exitPending(pid int) bool {
	var info unix.Siginfo
	err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOHANG|unix.WNOWAIT, nil)
	if err != nil {
		// ECHILD: already reaped.
		return true
	}
	return info.Signo != 0
}
