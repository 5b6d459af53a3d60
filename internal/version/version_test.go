package version

import (
	"strings"
	"testing"
)

func TestFullPrefersInjectedValues(t *testing.T) {
	prevVersion, prevCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = prevVersion, prevCommit })

	Version, Commit = "1.2.3", "abc1234"
	if got := Full(); got != "offline-agent 1.2.3 (abc1234)" {
		t.Fatalf("unexpected version string %q", got)
	}
}

func TestResolveFallsBackToDevelopmentValues(t *testing.T) {
	prevVersion, prevCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = prevVersion, prevCommit })

	Version, Commit = "", ""
	version, commit := Resolve()
	if version == "" || commit == "" {
		t.Fatalf("expected non-empty fallback, got %q %q", version, commit)
	}
	if !strings.HasPrefix(Full(), "offline-agent ") {
		t.Fatalf("unexpected prefix %q", Full())
	}
}
