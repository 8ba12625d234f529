package version

import (
	"runtime"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get("1.0.0")

	if info.Version == "" {
		t.Error("Version should not be empty")
	}
	if info.Commit == "" {
		t.Error("Commit should not be empty")
	}
	if info.BuildTime == "" {
		t.Error("BuildTime should not be empty")
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.ProtocolVersion != "1.0.0" {
		t.Errorf("ProtocolVersion = %q, want %q", info.ProtocolVersion, "1.0.0")
	}
}

func TestUserAgent(t *testing.T) {
	if got, want := UserAgent("watch"), "roomstream-watch/"+Version; got != want {
		t.Errorf("UserAgent = %q, want %q", got, want)
	}
}
