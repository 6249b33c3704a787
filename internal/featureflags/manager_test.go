package featureflags

import (
	"fmt"
	"testing"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	if !m.Enabled("a", "1.2.3.4") || !m.Enabled("c", "1.2.3.4") || !m.Enabled("e", "") {
		t.Fatal("expected enabled boolean values to evaluate true")
	}
	if m.Enabled("b", "1.2.3.4") || m.Enabled("d", "1.2.3.4") || m.Enabled("f", "") {
		t.Fatal("expected disabled boolean values to evaluate false")
	}
	if m.Enabled("missing", "1.2.3.4") {
		t.Fatal("unknown flags are off")
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,bad=x%")

	if !m.Enabled("always", "") {
		t.Fatal("100% rollout should always be enabled")
	}
	if m.Enabled("never", "10.0.0.1") {
		t.Fatal("0% rollout should always be disabled")
	}
	if m.Enabled("bad", "10.0.0.1") {
		t.Fatal("malformed percentage should be disabled")
	}

	first := m.Enabled("canary", "10.0.0.42")
	for i := 0; i < 5; i++ {
		if got := m.Enabled("canary", "10.0.0.42"); got != first {
			t.Fatal("rollout evaluation must be deterministic per subject")
		}
	}

	if m.Enabled("canary", "") {
		t.Fatal("percentage rollout requires a subject")
	}
	if m.EnabledGlobally("canary") {
		t.Fatal("partial rollouts are not globally enabled")
	}
}

func TestEnabled_RolloutSpread(t *testing.T) {
	m := NewManager("half=50%")

	on := 0
	for i := 0; i < 1000; i++ {
		if m.Enabled("half", fmt.Sprintf("10.0.%d.%d", i/256, i%256)) {
			on++
		}
	}
	if on < 350 || on > 650 {
		t.Fatalf("expected roughly half enabled, got %d/1000", on)
	}
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,webp_preview=on, tagged_posts = 20% ,z=off ")

	raw := m.Raw()
	if len(raw) != 3 {
		t.Fatalf("expected 3 parsed flags, got %d", len(raw))
	}
	if raw[WebPPreview] != "on" || raw[TaggedPosts] != "20%" || raw["z"] != "off" {
		t.Fatalf("unexpected raw flags: %#v", raw)
	}

	snap := m.Snapshot("127.0.0.1")
	if len(snap) != 3 {
		t.Fatalf("expected snapshot size 3, got %d", len(snap))
	}
}

func TestNilManager(t *testing.T) {
	var m *Manager
	if m.Enabled(TaggedPosts, "x") {
		t.Fatal("nil manager enables nothing")
	}
}
