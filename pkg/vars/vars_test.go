package vars_test

import (
	"errors"
	"os"
	"testing"

	"github.com/rcarmo/bigshell/pkg/core"
	"github.com/rcarmo/bigshell/pkg/vars"
)

// clearEnv guarantees name is absent from the environment for the
// duration of the test. t.Setenv registers the restore.
func clearEnv(t *testing.T, name string) {
	t.Helper()
	t.Setenv(name, "placeholder")
	if err := os.Unsetenv(name); err != nil {
		t.Fatal(err)
	}
}

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"FOO", true},
		{"_foo", true},
		{"f", true},
		{"_", true},
		{"A1_b2", true},
		{"", false},
		{"1FOO", false},
		{"FOO-BAR", false},
		{"FOO=bar", false},
		{"FO O", false},
		{"$FOO", false},
	}
	for _, tt := range tests {
		if got := vars.IsValidName(tt.name); got != tt.want {
			t.Errorf("IsValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSetThenGetLocal(t *testing.T) {
	clearEnv(t, "BIGSHELL_LOCAL")
	r := vars.New()
	if err := r.Set("BIGSHELL_LOCAL", "hello"); err != nil {
		t.Fatal(err)
	}
	got, ok, err := r.Get("BIGSHELL_LOCAL")
	if err != nil || !ok || got != "hello" {
		t.Errorf("Get = (%q, %v, %v), want (hello, true, nil)", got, ok, err)
	}
	// A local variable must not leak into the environment.
	if _, inEnv := os.LookupEnv("BIGSHELL_LOCAL"); inEnv {
		t.Error("non-exported variable leaked into the environment")
	}
}

func TestGetFallsBackToEnvironment(t *testing.T) {
	t.Setenv("BIGSHELL_ENV", "from-env")
	r := vars.New()
	got, ok, err := r.Get("BIGSHELL_ENV")
	if err != nil || !ok || got != "from-env" {
		t.Errorf("Get = (%q, %v, %v), want (from-env, true, nil)", got, ok, err)
	}
}

func TestGetAbsentIsNotAnError(t *testing.T) {
	clearEnv(t, "BIGSHELL_ABSENT")
	r := vars.New()
	_, ok, err := r.Get("BIGSHELL_ABSENT")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if ok {
		t.Error("Get reported a value for an unset name")
	}
}

func TestInvalidNames(t *testing.T) {
	r := vars.New()
	if _, _, err := r.Get("1bad"); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Get error = %v, want ErrInvalidArgument", err)
	}
	if err := r.Set("", "x"); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Set error = %v, want ErrInvalidArgument", err)
	}
	if err := r.Unset("a-b"); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Unset error = %v, want ErrInvalidArgument", err)
	}
	if err := r.Export("a b"); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Export error = %v, want ErrInvalidArgument", err)
	}
}

func TestExportPublishesLocalValue(t *testing.T) {
	clearEnv(t, "BIGSHELL_EXP")
	r := vars.New()
	if err := r.Set("BIGSHELL_EXP", "bar"); err != nil {
		t.Fatal(err)
	}
	if err := r.Export("BIGSHELL_EXP"); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("BIGSHELL_EXP"); got != "bar" {
		t.Errorf("environment value = %q, want %q", got, "bar")
	}
	// Once exported, Set writes through to the environment and Get
	// reads it back from there, never from the stale local copy.
	if err := r.Set("BIGSHELL_EXP", "baz"); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("BIGSHELL_EXP"); got != "baz" {
		t.Errorf("environment value after Set = %q, want %q", got, "baz")
	}
	got, ok, err := r.Get("BIGSHELL_EXP")
	if err != nil || !ok || got != "baz" {
		t.Errorf("Get = (%q, %v, %v), want (baz, true, nil)", got, ok, err)
	}
}

func TestExportBeforeSet(t *testing.T) {
	clearEnv(t, "BIGSHELL_LATE")
	r := vars.New()
	if err := r.Export("BIGSHELL_LATE"); err != nil {
		t.Fatal(err)
	}
	// No value yet, so nothing to publish.
	if _, inEnv := os.LookupEnv("BIGSHELL_LATE"); inEnv {
		t.Error("export of a valueless variable created an environment entry")
	}
	if err := r.Set("BIGSHELL_LATE", "now"); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("BIGSHELL_LATE"); got != "now" {
		t.Errorf("environment value = %q, want %q", got, "now")
	}
}

func TestSetSeedsExportFromEnvironment(t *testing.T) {
	// A name that already exists in the environment is born exported:
	// the first Set must update the environment, not shadow it.
	t.Setenv("BIGSHELL_SEED", "old")
	r := vars.New()
	if err := r.Set("BIGSHELL_SEED", "new"); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("BIGSHELL_SEED"); got != "new" {
		t.Errorf("environment value = %q, want %q", got, "new")
	}
}

func TestUnsetRemovesBothSides(t *testing.T) {
	t.Setenv("BIGSHELL_GONE", "x")
	r := vars.New()
	if err := r.Set("BIGSHELL_GONE", "y"); err != nil {
		t.Fatal(err)
	}
	if err := r.Unset("BIGSHELL_GONE"); err != nil {
		t.Fatal(err)
	}
	if _, inEnv := os.LookupEnv("BIGSHELL_GONE"); inEnv {
		t.Error("Unset left the environment entry behind")
	}
	if _, ok, _ := r.Get("BIGSHELL_GONE"); ok {
		t.Error("Unset left a registry entry behind")
	}
}

func TestUnsetNeverPresentSucceeds(t *testing.T) {
	clearEnv(t, "BIGSHELL_NEVER")
	r := vars.New()
	if err := r.Unset("BIGSHELL_NEVER"); err != nil {
		t.Errorf("Unset of an absent name failed: %v", err)
	}
}

func TestSetExportUnsetRoundTrip(t *testing.T) {
	clearEnv(t, "BIGSHELL_CYCLE")
	r := vars.New()
	for i := 0; i < 3; i++ {
		if err := r.Set("BIGSHELL_CYCLE", "v"); err != nil {
			t.Fatal(err)
		}
		if err := r.Export("BIGSHELL_CYCLE"); err != nil {
			t.Fatal(err)
		}
		if err := r.Unset("BIGSHELL_CYCLE"); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok, _ := r.Get("BIGSHELL_CYCLE"); ok {
		t.Error("variable survived the final Unset")
	}
}

func TestCleanup(t *testing.T) {
	clearEnv(t, "BIGSHELL_CLEAN")
	r := vars.New()
	if err := r.Set("BIGSHELL_CLEAN", "v"); err != nil {
		t.Fatal(err)
	}
	r.Cleanup()
	if _, ok, _ := r.Get("BIGSHELL_CLEAN"); ok {
		t.Error("registry entry survived Cleanup")
	}
}
