// Package builtins implements the shell's builtin commands: cd, exit,
// export, unset, fg, bg and jobs, plus the no-op handler for commands
// consisting only of assignments and redirections.
//
// Handlers return 0 on success and -1 on failure, and write their
// diagnostics through the pseudo-redirection resolver so a builtin
// honors redirections without the shell losing its own streams.
package builtins

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/rcarmo/bigshell/pkg/jobs"
	"github.com/rcarmo/bigshell/pkg/vars"
)

// Command is the parsed command under execution: a sequence of words
// with word 0 naming the command. Read-only here.
type Command struct {
	Words []string
}

// JobTable is the view of the shell's job table the builtins consume.
type JobTable interface {
	List() []jobs.Job
	PGID(jid int) (int, error)
}

// Shell bundles the collaborators a builtin may touch. The interpreter
// builds one at startup and passes it to Run for every invocation.
type Shell struct {
	Vars *vars.Registry
	Jobs JobTable

	// WaitFG blocks until the job's foreground episode concludes.
	WaitFG func(jid int) error

	// Status is the exit status of the most recently completed
	// foreground job, read and written by the exit builtin.
	Status *int

	// Exit terminates the shell process and does not return. Tests
	// inject a recorder here.
	Exit func(status int)
}

// Builtin identifies a builtin handler.
type Builtin int

const (
	Null Builtin = iota
	Cd
	Exit
	Fg
	Bg
	Jobs
	Unset
	Export
)

var byName = map[string]Builtin{
	"cd":     Cd,
	"exit":   Exit,
	"fg":     Fg,
	"bg":     Bg,
	"jobs":   Jobs,
	"unset":  Unset,
	"export": Export,
}

// Lookup maps a command to its builtin. A command with no words (pure
// assignments or redirections) maps to Null, which trivially
// succeeds. ok is false when word 0 names no builtin and the caller
// should fall through to external execution.
func Lookup(cmd Command) (Builtin, bool) {
	if len(cmd.Words) == 0 {
		return Null, true
	}
	b, ok := byName[cmd.Words[0]]
	return b, ok
}

// Run executes the builtin against the command and its redirection
// list. The redirection list is read-only and owned by the caller.
func (sh *Shell) Run(b Builtin, cmd Command, redirs []Redir) int {
	switch b {
	case Null:
		return 0
	case Cd:
		return sh.cd(cmd, redirs)
	case Exit:
		return sh.exit(cmd, redirs)
	case Fg:
		return sh.fg(cmd, redirs)
	case Bg:
		return sh.bg(cmd, redirs)
	case Jobs:
		return sh.jobs(redirs)
	case Unset:
		return sh.unset(cmd)
	case Export:
		return sh.export(cmd)
	}
	return -1
}

// cd changes directory. With no argument the target is $HOME; with
// one argument that word is validated as a variable name, stored as
// the new PWD, and PWD's value becomes the chdir target. The chdir
// itself is best effort and not checked, matching the historical
// behavior.
func (sh *Shell) cd(cmd Command, redirs []Redir) int {
	var target string
	if len(cmd.Words) == 1 {
		home, ok, _ := sh.Vars.Get("HOME")
		if !ok {
			fdPrintf(redirs, stderrFD, "cd: HOME not set\n")
			return -1
		}
		target = home
	}
	switch {
	case len(cmd.Words) > 2:
		fdPrintf(redirs, stderrFD, "cd: Too many arguments\n")
		return -1
	case len(cmd.Words) == 2:
		if !vars.IsValidName(cmd.Words[1]) {
			return -1
		}
		if sh.Vars.Set("PWD", cmd.Words[1]) != nil {
			fdPrintf(redirs, stderrFD, "cd: Error setting PWD\n")
			return -1
		}
	default:
		if sh.Vars.Set("PWD", target) != nil {
			fdPrintf(redirs, stderrFD, "cd: Error setting PWD\n")
			return -1
		}
	}
	if pwd, ok, _ := sh.Vars.Get("PWD"); ok {
		target = pwd
	}
	_ = os.Chdir(target)
	return 0
}

// exit terminates the shell. With no argument the status is that of
// the most recently completed foreground job; with one argument the
// word must parse as a base-10 integer. The chosen status is recorded
// before termination; reaching the final return means the terminate
// call came back, which it never should.
func (sh *Shell) exit(cmd Command, redirs []Redir) int {
	status := *sh.Status
	if len(cmd.Words) > 2 {
		fdPrintf(redirs, stderrFD, "exit: Too many arguments\n")
		return -1
	}
	if len(cmd.Words) == 2 {
		n, err := strconv.Atoi(cmd.Words[1])
		if err != nil {
			fdPrintf(redirs, stderrFD, "exit: Non-numeric value given\n")
			return -1
		}
		status = n
	}
	*sh.Status = status
	sh.Exit(status)
	return -1
}

// export marks each argument for export. NAME=VALUE words are set
// first; either step failing aborts the whole command.
func (sh *Shell) export(cmd Command) int {
	for _, word := range cmd.Words[1:] {
		name, value, assigned := strings.Cut(word, "=")
		if assigned {
			if sh.Vars.Set(name, value) != nil {
				return -1
			}
		}
		if sh.Vars.Export(name) != nil {
			return -1
		}
	}
	return 0
}

// unset removes each named variable. Unsetting nonexistent variables
// is not an error; unset always succeeds.
func (sh *Shell) unset(cmd Command) int {
	for _, word := range cmd.Words[1:] {
		_ = sh.Vars.Unset(word)
	}
	return 0
}

// jobID resolves the job a fg/bg invocation targets: the primary job
// when no argument is given, otherwise the argument parsed as a
// non-negative integer job id. Reports false after emitting a
// diagnostic.
func (sh *Shell) jobID(cmd Command, redirs []Redir) (int, bool) {
	switch {
	case len(cmd.Words) == 1:
		list := sh.Jobs.List()
		if len(list) == 0 {
			fdPrintf(redirs, stderrFD, "No jobs\n")
			return 0, false
		}
		return list[0].JID, true
	case len(cmd.Words) == 2:
		jid, err := strconv.Atoi(cmd.Words[1])
		if err != nil || jid < 0 {
			fdPrintf(redirs, stderrFD, "fg: `%s': Invalid argument\n", cmd.Words[1])
			return 0, false
		}
		return jid, true
	default:
		fdPrintf(redirs, stderrFD, "fg: `%s': Invalid argument\n", cmd.Words[2])
		return 0, false
	}
}

// fg resumes a job's process group and waits for its foreground
// episode to conclude.
func (sh *Shell) fg(cmd Command, redirs []Redir) int {
	jid, ok := sh.jobID(cmd, redirs)
	if !ok {
		return -1
	}
	pgid, err := sh.Jobs.PGID(jid)
	if err != nil {
		fdPrintf(redirs, stderrFD, "fg: Invalid argument\n")
		return -1
	}
	// Fire and forget: the wait below observes the state change.
	_ = unix.Kill(-pgid, unix.SIGCONT)
	if err := sh.WaitFG(jid); err != nil {
		fdPrintf(redirs, stderrFD, "fg: %v\n", err)
		return -1
	}
	return 0
}

// bg resumes a job's process group and leaves it running in the
// background.
func (sh *Shell) bg(cmd Command, redirs []Redir) int {
	jid, ok := sh.jobID(cmd, redirs)
	if !ok {
		return -1
	}
	pgid, err := sh.Jobs.PGID(jid)
	if err != nil {
		fdPrintf(redirs, stderrFD, "bg: Invalid argument\n")
		return -1
	}
	_ = unix.Kill(-pgid, unix.SIGCONT)
	return 0
}

// jobs lists every table entry as "[jid] pgid". The listing goes to
// the resolved stderr channel, as the original did.
func (sh *Shell) jobs(redirs []Redir) int {
	for _, job := range sh.Jobs.List() {
		fdPrintf(redirs, stderrFD, "[%d] %d\n", job.JID, job.PGID)
	}
	return 0
}
