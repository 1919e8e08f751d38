// Package jobs tracks background process groups by job id and waits
// on foreground jobs.
//
// The table is mutated only by the shell's control thread; the
// processes themselves run concurrently at the OS level and are
// observed through wait calls, never through shared memory.
package jobs

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/rcarmo/bigshell/pkg/core"
)

// Job is the caller-visible view of a table entry.
type Job struct {
	JID  int
	PGID int
}

type job struct {
	jid  int
	pgid int
	pids []int
}

// Table holds the shell's jobs, most recent first. Index 0 of List is
// the primary job, the one fg and bg operate on by default.
type Table struct {
	jobs    []*job
	nextJID int
}

// NewTable returns an empty job table. Job ids start at 1.
func NewTable() *Table {
	return &Table{nextJID: 1}
}

// Add registers a new job for the given process group and its member
// pids, making it the primary job. Returns the assigned job id.
func (t *Table) Add(pgid int, pids ...int) int {
	j := &job{jid: t.nextJID, pgid: pgid, pids: pids}
	t.nextJID++
	t.jobs = append([]*job{j}, t.jobs...)
	return j.jid
}

// List returns the jobs, most recent first.
func (t *Table) List() []Job {
	out := make([]Job, len(t.jobs))
	for i, j := range t.jobs {
		out[i] = Job{JID: j.jid, PGID: j.pgid}
	}
	return out
}

func (t *Table) find(jid int) *job {
	for _, j := range t.jobs {
		if j.jid == jid {
			return j
		}
	}
	return nil
}

// PGID resolves a job id to its process group id.
func (t *Table) PGID(jid int) (int, error) {
	if j := t.find(jid); j != nil {
		return j.pgid, nil
	}
	return 0, fmt.Errorf("job %d: %w", jid, core.ErrNotFound)
}

// Remove drops a job from the table. Removing an unknown id is a
// no-op.
func (t *Table) Remove(jid int) {
	for i, j := range t.jobs {
		if j.jid == jid {
			t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
			return
		}
	}
}

// WaitForeground blocks until every process of the job has exited or
// stopped. A stopped job stays in the table so fg/bg can resume it; a
// finished job is removed. Returns the exit status of the last
// process observed exiting (128+signal for signal deaths).
func (t *Table) WaitForeground(jid int) (int, error) {
	j := t.find(jid)
	if j == nil {
		return 0, fmt.Errorf("job %d: %w", jid, core.ErrNotFound)
	}
	status := 0
	var remaining []int
	for _, pid := range j.pids {
		ws, _, err := waitPid(pid, 0)
		if err != nil {
			return 0, fmt.Errorf("wait on job %d: %w", jid, err)
		}
		switch {
		case ws.Stopped():
			remaining = append(remaining, pid)
		case ws.Signaled():
			status = 128 + int(ws.Signal())
		case ws.Exited():
			status = ws.ExitStatus()
		}
	}
	j.pids = remaining
	if len(remaining) == 0 {
		t.Remove(jid)
	}
	return status, nil
}

// Reap polls every job without blocking and removes the ones whose
// processes have all exited. Returns the completed jobs so the shell
// can announce them. Called between prompts.
func (t *Table) Reap() []Job {
	var done []Job
	for _, j := range t.jobs {
		var remaining []int
		for _, pid := range j.pids {
			ws, changed, err := waitPid(pid, unix.WNOHANG)
			if err == unix.ECHILD {
				// Reaped elsewhere; the process is gone.
				continue
			}
			if err != nil || !changed || (!ws.Exited() && !ws.Signaled()) {
				remaining = append(remaining, pid)
			}
		}
		j.pids = remaining
		if len(remaining) == 0 {
			done = append(done, Job{JID: j.jid, PGID: j.pgid})
		}
	}
	for _, d := range done {
		t.Remove(d.JID)
	}
	return done
}

// waitPid wraps unix.Wait4 with WUNTRACED so stopped children are
// reported, retrying on EINTR. changed is false when a WNOHANG poll
// found no state change.
func waitPid(pid int, flags int) (ws unix.WaitStatus, changed bool, err error) {
	for {
		wpid, err := unix.Wait4(pid, &ws, flags|unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ws, false, err
		}
		return ws, wpid == pid, nil
	}
}
