package obslog

import "testing"

func TestNewVerbose(t *testing.T) {
	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error: %v", err)
	}
	if logger == nil {
		t.Fatal("New(true) returned nil logger")
	}
	defer logger.Sync()
}

func TestNewQuiet(t *testing.T) {
	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error: %v", err)
	}
	if logger == nil {
		t.Fatal("New(false) returned nil logger")
	}
	defer logger.Sync()
}

func TestFields(t *testing.T) {
	fields := Fields(7, "exec")
	if len(fields) != 2 {
		t.Fatalf("Fields returned %d fields, want 2", len(fields))
	}
}
