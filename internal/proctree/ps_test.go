package proctree

import "testing"

func TestParsePS(t *testing.T) {
	out := []byte(`    1     0 Ss   launchd
  312     1 S    /usr/sbin/cfprefsd agent
  999   312 Z+   (sh)

`)

	entries, err := parsePS(out)
	if err != nil {
		t.Fatalf("parsePS failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	if entries[1].PID != 312 || entries[1].PPID != 1 {
		t.Errorf("unexpected ids: %+v", entries[1])
	}
	if entries[1].Comm != "/usr/sbin/cfprefsd agent" {
		t.Errorf("Comm = %q", entries[1].Comm)
	}
	if entries[2].Alive() {
		t.Error("zombie entry should not be alive")
	}
}

func TestParsePSRejectsGarbage(t *testing.T) {
	if _, err := parsePS([]byte("abc 1 S sh\n")); err == nil {
		t.Error("expected error for non-numeric pid")
	}
	if _, err := parsePS([]byte("12 x S sh\n")); err == nil {
		t.Error("expected error for non-numeric ppid")
	}
}
