// Package shell implements the bigshell interpreter loop: reading
// input, tokenizing, expanding variables, routing redirections, and
// dispatching builtins or external commands.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/rcarmo/bigshell/pkg/builtins"
	"github.com/rcarmo/bigshell/pkg/core"
	"github.com/rcarmo/bigshell/pkg/jobs"
	"github.com/rcarmo/bigshell/pkg/vars"
)

// Run executes the shell. With -c the next argument is run as a
// one-shot command line; with a file argument the file is run as a
// script; otherwise input comes from stdin, interactively when stdin
// is a terminal.
func Run(stdio *core.Stdio, args []string) int {
	r := newRunner(stdio)
	defer r.vars.Cleanup()
	if len(args) > 0 && args[0] == "-c" {
		if len(args) < 2 {
			return core.UsageError(stdio, "bigshell", "-c requires an argument")
		}
		return r.runLine(args[1])
	}
	if len(args) > 0 {
		file, err := os.Open(args[0])
		if err != nil {
			stdio.Errorf("bigshell: %v\n", err)
			return core.ExitFailure
		}
		defer file.Close()
		return r.runScript(file)
	}
	if f, ok := stdio.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return r.runInteractive()
	}
	return r.runScript(stdio.In)
}

type runner struct {
	stdio  *core.Stdio
	vars   *vars.Registry
	table  *jobs.Table
	sh     *builtins.Shell
	status int // $?, last foreground status
	lastBG int // $!, pid of the last background command
}

func newRunner(stdio *core.Stdio) *runner {
	r := &runner{
		stdio: stdio,
		vars:  vars.New(),
		table: jobs.NewTable(),
	}
	r.sh = &builtins.Shell{
		Vars:   r.vars,
		Jobs:   r.table,
		Status: &r.status,
		WaitFG: func(jid int) error {
			status, err := r.table.WaitForeground(jid)
			if err != nil {
				return err
			}
			r.status = status
			return nil
		},
		Exit: r.exitShell,
	}
	return r
}

// exitShell is the termination entry point the exit builtin calls.
// Registry teardown is explicit; this never returns.
func (r *runner) exitShell(status int) {
	r.vars.Cleanup()
	os.Exit(status)
}

func (r *runner) runInteractive() int {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	for {
		r.announceDone()
		input, err := line.Prompt(r.prompt())
		if err == liner.ErrPromptAborted {
			continue
		}
		if err != nil {
			// io.EOF on ^D
			break
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)
		r.runLine(input)
	}
	return r.status
}

func (r *runner) runScript(in io.Reader) int {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		r.announceDone()
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		r.runLine(scanner.Text())
	}
	return r.status
}

func (r *runner) prompt() string {
	if ps1, ok, _ := r.vars.Get("PS1"); ok {
		return ps1
	}
	return "$ "
}

// announceDone reports background jobs that finished since the last
// prompt.
func (r *runner) announceDone() {
	for _, job := range r.table.Reap() {
		r.stdio.Errorf("[%d] Done\n", job.JID)
	}
}

// runLine runs each ;-separated command on the line and returns the
// status of the last one.
func (r *runner) runLine(line string) int {
	for _, cmd := range splitCommands(line) {
		if cmd == "" {
			continue
		}
		r.status = r.runCommand(cmd)
	}
	return r.status
}

func (r *runner) runCommand(cmd string) int {
	spec, err := r.parseCommand(splitTokens(cmd))
	if err != nil {
		r.stdio.Errorf("bigshell: %v\n", err)
		return core.ExitFailure
	}
	for _, a := range spec.assigns {
		if err := r.vars.Set(a.name, a.value); err != nil {
			r.stdio.Errorf("bigshell: %v\n", err)
			return core.ExitFailure
		}
	}
	command := builtins.Command{Words: spec.words}
	if b, ok := builtins.Lookup(command); ok {
		return r.runBuiltin(b, command, spec)
	}
	return r.runExternal(spec)
}

func (r *runner) runBuiltin(b builtins.Builtin, command builtins.Command, spec commandSpec) int {
	redirs, files, err := openRedirs(spec.redirs)
	if err != nil {
		r.stdio.Errorf("bigshell: %v\n", err)
		return core.ExitFailure
	}
	defer closeAll(files)
	if r.sh.Run(b, command, redirs) != 0 {
		return core.ExitFailure
	}
	return core.ExitSuccess
}

func (r *runner) runExternal(spec commandSpec) int {
	path, err := exec.LookPath(spec.words[0])
	if err != nil {
		r.commandNotFound(spec.words[0])
		return 127
	}
	cmd := exec.Command(path, spec.words[1:]...)
	cmd.Stdin = r.stdio.In
	cmd.Stdout = r.stdio.Out
	cmd.Stderr = r.stdio.Err
	// Exported variables are already in the environment; that is the
	// entire point of the registry's duality.
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	_, files, err := openRedirs(spec.redirs)
	if err != nil {
		r.stdio.Errorf("bigshell: %v\n", err)
		return core.ExitFailure
	}
	defer closeAll(files)
	for i, rd := range spec.redirs {
		switch rd.pseudo {
		case 0:
			cmd.Stdin = files[i]
		case 1:
			cmd.Stdout = files[i]
		case 2:
			cmd.Stderr = files[i]
		}
	}

	if err := cmd.Start(); err != nil {
		r.stdio.Errorf("bigshell: %v\n", err)
		return core.ExitFailure
	}
	pid := cmd.Process.Pid
	jid := r.table.Add(pid, pid)
	if spec.background {
		r.lastBG = pid
		r.stdio.Errorf("[%d] %d\n", jid, pid)
		return core.ExitSuccess
	}
	status, err := r.table.WaitForeground(jid)
	if err != nil {
		r.stdio.Errorf("bigshell: %v\n", err)
		return core.ExitFailure
	}
	if _, stillThere := r.table.PGID(jid); stillThere == nil {
		// The job stopped rather than exiting; it stays in the table
		// for fg/bg.
		r.stdio.Errorf("[%d] Stopped\n", jid)
		return status
	}
	// The process is already reaped; this only joins the pipe-copying
	// goroutines exec starts when the streams are not *os.File.
	_ = cmd.Wait()
	return status
}

var builtinNames = []string{"cd", "exit", "fg", "bg", "jobs", "unset", "export"}

func (r *runner) commandNotFound(name string) {
	msg := fmt.Sprintf("bigshell: %s: command not found", name)
	if s := suggest(name); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	r.stdio.Errorf("%s\n", msg)
}

// suggest returns the builtin name within two edits of name, if any.
func suggest(name string) string {
	best := ""
	bestDist := 3
	for _, candidate := range builtinNames {
		if d := levenshtein.ComputeDistance(name, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}

type assign struct {
	name  string
	value string
}

type redirSpec struct {
	pseudo int
	path   string
	read   bool
	appnd  bool
}

type commandSpec struct {
	assigns    []assign
	words      []string
	redirs     []redirSpec
	background bool
}

// parseCommand turns tokens into a command spec: leading NAME=VALUE
// assignments, redirection operators with their targets, a trailing &
// for background execution, and the remaining words expanded.
func (r *runner) parseCommand(tokens []string) (commandSpec, error) {
	var spec commandSpec
	if n := len(tokens); n > 0 && tokens[n-1] == "&" {
		spec.background = true
		tokens = tokens[:n-1]
	}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok {
		case "<", ">", ">>", "2>", "2>>":
			if i+1 >= len(tokens) {
				return spec, fmt.Errorf("missing redirection target after %q", tok)
			}
			target := r.expand(tokens[i+1])
			switch tok {
			case "<":
				spec.redirs = append(spec.redirs, redirSpec{pseudo: 0, path: target, read: true})
			case ">":
				spec.redirs = append(spec.redirs, redirSpec{pseudo: 1, path: target})
			case ">>":
				spec.redirs = append(spec.redirs, redirSpec{pseudo: 1, path: target, appnd: true})
			case "2>":
				spec.redirs = append(spec.redirs, redirSpec{pseudo: 2, path: target})
			case "2>>":
				spec.redirs = append(spec.redirs, redirSpec{pseudo: 2, path: target, appnd: true})
			}
			i++
		default:
			if len(spec.words) == 0 {
				if name, value, ok := parseAssignment(tok); ok {
					spec.assigns = append(spec.assigns, assign{name: name, value: r.expand(value)})
					continue
				}
			}
			spec.words = append(spec.words, r.expand(tok))
		}
	}
	return spec, nil
}

// openRedirs opens every redirection target. On success the returned
// redirection list pairs each pseudo descriptor with the opened
// file's real descriptor; the caller closes the files once the
// command finishes, so the shell's own streams are never touched.
func openRedirs(specs []redirSpec) ([]builtins.Redir, []*os.File, error) {
	var redirs []builtins.Redir
	var files []*os.File
	for _, spec := range specs {
		var file *os.File
		var err error
		if spec.read {
			file, err = os.Open(spec.path)
		} else {
			flags := os.O_CREATE | os.O_WRONLY
			if spec.appnd {
				flags |= os.O_APPEND
			} else {
				flags |= os.O_TRUNC
			}
			file, err = os.OpenFile(spec.path, flags, 0644)
		}
		if err != nil {
			closeAll(files)
			return nil, nil, err
		}
		files = append(files, file)
		redirs = append(redirs, builtins.Redir{Pseudo: spec.pseudo, Real: int(file.Fd())})
	}
	return redirs, files, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func parseAssignment(tok string) (string, string, bool) {
	name, value, found := strings.Cut(tok, "=")
	if !found || !vars.IsValidName(name) {
		return "", "", false
	}
	return name, value, true
}

// expand substitutes $NAME, ${NAME} and the special parameters $?
// (last foreground status), $$ (shell pid) and $! (last background
// pid) using the variable registry.
func (r *runner) expand(tok string) string {
	if !strings.Contains(tok, "$") {
		return tok
	}
	var buf strings.Builder
	for i := 0; i < len(tok); i++ {
		if tok[i] != '$' || i+1 >= len(tok) {
			buf.WriteByte(tok[i])
			continue
		}
		switch tok[i+1] {
		case '$':
			buf.WriteString(strconv.Itoa(os.Getpid()))
			i++
			continue
		case '?':
			buf.WriteString(strconv.Itoa(r.status))
			i++
			continue
		case '!':
			if r.lastBG != 0 {
				buf.WriteString(strconv.Itoa(r.lastBG))
			}
			i++
			continue
		case '{':
			if end := strings.IndexByte(tok[i+2:], '}'); end >= 0 {
				buf.WriteString(r.lookup(tok[i+2 : i+2+end]))
				i += end + 2
				continue
			}
		}
		j := i + 1
		for j < len(tok) && (isNameByte(tok[j]) || (tok[j] >= '0' && tok[j] <= '9')) {
			j++
		}
		if j == i+1 {
			buf.WriteByte(tok[i])
			continue
		}
		buf.WriteString(r.lookup(tok[i+1 : j]))
		i = j - 1
	}
	return buf.String()
}

func (r *runner) lookup(name string) string {
	value, ok, err := r.vars.Get(name)
	if err != nil || !ok {
		return ""
	}
	return value
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// splitCommands splits a line on unquoted semicolons.
func splitCommands(line string) []string {
	var cmds []string
	var buf strings.Builder
	var inSingle, inDouble, escape bool
	for i := 0; i < len(line); i++ {
		c := line[i]
		if escape {
			buf.WriteByte('\\')
			buf.WriteByte(c)
			escape = false
			continue
		}
		switch {
		case c == '\\' && !inSingle:
			escape = true
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			buf.WriteByte(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			buf.WriteByte(c)
		case c == ';' && !inSingle && !inDouble:
			cmds = append(cmds, strings.TrimSpace(buf.String()))
			buf.Reset()
		default:
			buf.WriteByte(c)
		}
	}
	if tail := strings.TrimSpace(buf.String()); tail != "" {
		cmds = append(cmds, tail)
	}
	return cmds
}

// splitTokens splits a command into words, honoring single quotes,
// double quotes and backslash escapes. Quotes are stripped.
func splitTokens(cmd string) []string {
	var tokens []string
	var buf strings.Builder
	var inSingle, inDouble, escape, quoted bool
	flush := func() {
		if buf.Len() > 0 || quoted {
			tokens = append(tokens, buf.String())
			buf.Reset()
			quoted = false
		}
	}
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		if escape {
			buf.WriteByte(c)
			escape = false
			continue
		}
		switch {
		case c == '\\' && !inSingle:
			escape = true
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			quoted = true
		case c == '"' && !inSingle:
			inDouble = !inDouble
			quoted = true
		case unicode.IsSpace(rune(c)) && !inSingle && !inDouble:
			flush()
		default:
			buf.WriteByte(c)
		}
	}
	flush()
	return tokens
}
