package supervisor

import "syscall"

const (
	sigterm = syscall.SIGTERM
	sigkill = syscall.SIGKILL
)

func setpgidAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func processGroupID(pid int) (int, error) {
	return syscall.Getpgid(pid)
}

func killSignal(target int, sig syscall.Signal) error {
	return syscall.Kill(target, sig)
}
