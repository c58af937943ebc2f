// Package enforce is Enforcement (spec.md §4.11): stopping, killing,
// and killing the process group/tree of a target pid, with explicit
// self-protection so PortWatch can never be asked to stop itself or
// one of its own ancestors. The Result shape generalizes the teacher's
// internal/healing.Result (command -> outcome) to enforcement actions.
package enforce

import (
	"fmt"
	"os"
	"syscall"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// Reason is the outcome classification of an enforcement attempt.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonNotFound         Reason = "not_found"
	ReasonProtected        Reason = "protected"
	ReasonError            Reason = "error"
)

// Result is the outcome of one enforcement call.
type Result struct {
	PID    int32
	Action string
	Reason Reason
	Err    string
}

// Enforcer performs process-termination actions with self-protection.
type Enforcer struct {
	selfPID int32
}

// New constructs an Enforcer that refuses to act on selfPID or any of
// its ancestors.
func New() *Enforcer {
	return &Enforcer{selfPID: int32(os.Getpid())}
}

func (e *Enforcer) protectedLocked(pid int32) (bool, error) {
	if pid == e.selfPID {
		return true, nil
	}
	cur := e.selfPID
	for i := 0; i < 32; i++ {
		proc, err := gopsprocess.NewProcess(cur)
		if err != nil {
			return false, nil
		}
		ppid, err := proc.Ppid()
		if err != nil || ppid <= 0 {
			return false, nil
		}
		if ppid == pid {
			return true, nil
		}
		cur = ppid
	}
	return false, nil
}

// Stop sends SIGTERM to pid.
func (e *Enforcer) Stop(pid int32) Result {
	return e.signalOne(pid, "stop", syscall.SIGTERM)
}

// Kill sends SIGKILL to pid.
func (e *Enforcer) Kill(pid int32) Result {
	return e.signalOne(pid, "kill", syscall.SIGKILL)
}

func (e *Enforcer) signalOne(pid int32, action string, sig syscall.Signal) Result {
	if protected, err := e.protectedLocked(pid); err != nil {
		return Result{PID: pid, Action: action, Reason: ReasonError, Err: err.Error()}
	} else if protected {
		return Result{PID: pid, Action: action, Reason: ReasonProtected}
	}

	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return Result{PID: pid, Action: action, Reason: ReasonNotFound, Err: err.Error()}
	}
	if err := proc.Signal(sig); err != nil {
		return classifySignalError(pid, action, err)
	}
	return Result{PID: pid, Action: action, Reason: ReasonOK}
}

// KillGroup sends SIGKILL to pid's entire process group.
func (e *Enforcer) KillGroup(pid int32) Result {
	if protected, err := e.protectedLocked(pid); err != nil {
		return Result{PID: pid, Action: "kill_group", Reason: ReasonError, Err: err.Error()}
	} else if protected {
		return Result{PID: pid, Action: "kill_group", Reason: ReasonProtected}
	}

	pgid, err := syscall.Getpgid(int(pid))
	if err != nil {
		return Result{PID: pid, Action: "kill_group", Reason: ReasonNotFound, Err: err.Error()}
	}
	if pgid == syscall.Getpgrp() {
		return Result{PID: pid, Action: "kill_group", Reason: ReasonProtected, Err: "refusing to kill own process group"}
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
		return classifySignalError(pid, "kill_group", err)
	}
	return Result{PID: pid, Action: "kill_group", Reason: ReasonOK}
}

// KillTree kills pid and every descendant process, walking the process
// tree the same way the pack's /proc-directory-walk collector
// enumerates pid relationships, here via gopsutil's portable
// Children().
func (e *Enforcer) KillTree(pid int32) []Result {
	var results []Result

	if protected, err := e.protectedLocked(pid); err != nil {
		return []Result{{PID: pid, Action: "kill_tree", Reason: ReasonError, Err: err.Error()}}
	} else if protected {
		return []Result{{PID: pid, Action: "kill_tree", Reason: ReasonProtected}}
	}

	descendants := e.collectDescendants(pid)
	for _, d := range descendants {
		results = append(results, e.signalOne(d, "kill_tree", syscall.SIGKILL))
	}
	results = append(results, e.signalOne(pid, "kill_tree", syscall.SIGKILL))
	return results
}

func (e *Enforcer) collectDescendants(pid int32) []int32 {
	proc, err := gopsprocess.NewProcess(pid)
	if err != nil {
		return nil
	}
	children, err := proc.Children()
	if err != nil {
		return nil
	}

	var all []int32
	for _, c := range children {
		all = append(all, c.Pid)
		all = append(all, e.collectDescendants(c.Pid)...)
	}
	return all
}

func classifySignalError(pid int32, action string, err error) Result {
	if err == os.ErrProcessDone {
		return Result{PID: pid, Action: action, Reason: ReasonNotFound, Err: err.Error()}
	}
	if errno, ok := err.(syscall.Errno); ok {
		switch errno {
		case syscall.ESRCH:
			return Result{PID: pid, Action: action, Reason: ReasonNotFound, Err: err.Error()}
		case syscall.EPERM:
			return Result{PID: pid, Action: action, Reason: ReasonPermissionDenied, Err: err.Error()}
		}
	}
	return Result{PID: pid, Action: action, Reason: ReasonError, Err: fmt.Sprintf("%v", err)}
}
