package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("frames=%d", 3)

	if len(got) != 1 || got[0] != "frames=3" {
		t.Fatalf("unexpected log output %q", got)
	}

	SetLogger(nil)
	Logf("dropped")
	if len(got) != 1 {
		t.Errorf("no-op logger should not forward, got %q", got)
	}
}

func TestDebugfGatedByVerbose(t *testing.T) {
	original := Logf
	defer func() { Logf = original; SetVerbose(false) }()

	calls := 0
	SetLogger(func(string, ...interface{}) { calls++ })

	SetVerbose(false)
	Debugf("frame %d", 1)
	if calls != 0 {
		t.Errorf("Debugf logged while quiet")
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose() = false after SetVerbose(true)")
	}
	Debugf("frame %d", 2)
	if calls != 1 {
		t.Errorf("Debugf calls = %d, want 1", calls)
	}
}
