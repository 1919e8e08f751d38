// Package vars implements the shell variable registry.
//
// Every variable has a single source of truth: exported variables
// live in the process environment (so child processes inherit them),
// non-exported variables live in the registry. Get, Set, Unset and
// Export keep the two sides consistent so callers never have to know
// which side holds the value.
package vars

import (
	"fmt"
	"os"

	"github.com/rcarmo/bigshell/pkg/core"
)

type variable struct {
	exported bool
	value    string
	hasValue bool
}

// Registry holds the shell's local variables. The interpreter creates
// one at startup and owns it until Cleanup.
type Registry struct {
	vars map[string]*variable
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{vars: map[string]*variable{}}
}

// IsValidName reports whether name is a valid POSIX name:
// [A-Za-z_][A-Za-z0-9_]*. The empty string is not a name.
// This is the validation entry point shared with the tokenizer and
// expander.
func IsValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func badName(name string) error {
	return fmt.Errorf("%q: %w", name, core.ErrInvalidArgument)
}

// ensure returns the variable for name, creating it if absent. A new
// variable is marked exported when the name is already present in the
// environment, so later Sets keep updating the environment.
func (r *Registry) ensure(name string) *variable {
	if v, ok := r.vars[name]; ok {
		return v
	}
	_, inEnv := os.LookupEnv(name)
	v := &variable{exported: inEnv}
	r.vars[name] = v
	return v
}

// Get returns the value of name. Non-exported registry entries win;
// otherwise the environment is consulted. ok is false when the name
// is set nowhere, which is not an error.
func (r *Registry) Get(name string) (value string, ok bool, err error) {
	if !IsValidName(name) {
		return "", false, badName(name)
	}
	if v, found := r.vars[name]; found && !v.exported && v.hasValue {
		return v.value, true, nil
	}
	value, ok = os.LookupEnv(name)
	return value, ok, nil
}

// Set assigns value to name, creating the variable if needed. For an
// exported variable the write goes to the environment; the registry
// copy is left alone and is never read again while the variable stays
// exported.
func (r *Registry) Set(name, value string) error {
	if !IsValidName(name) {
		return badName(name)
	}
	v := r.ensure(name)
	if v.exported {
		return os.Setenv(name, value)
	}
	v.value = value
	v.hasValue = true
	return nil
}

// Unset removes name from the registry and from the environment.
// Unsetting a variable that exists in neither place succeeds.
func (r *Registry) Unset(name string) error {
	if !IsValidName(name) {
		return badName(name)
	}
	delete(r.vars, name)
	return os.Unsetenv(name)
}

// Export marks name as exported, creating it if needed. If the
// variable already carries a local value it is published to the
// environment now; a variable exported before being set converges to
// the same state once Set runs. Export is never undone by this
// package.
func (r *Registry) Export(name string) error {
	if !IsValidName(name) {
		return badName(name)
	}
	v := r.ensure(name)
	v.exported = true
	if v.hasValue {
		return os.Setenv(name, v.value)
	}
	return nil
}

// Cleanup drops every registry entry. Called once at interpreter
// shutdown.
func (r *Registry) Cleanup() {
	clear(r.vars)
}
