package logger

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLogUsableWithoutInit(t *testing.T) {
	if Log == nil {
		t.Fatal("Log must be initialized at declaration")
	}
	Log.SetOutput(io.Discard)
	// Must not panic for callers that never ran Init.
	Log.WithError(errors.New("boom")).Warn("pre-init logging")
}

func TestInitAppliesLevel(t *testing.T) {
	Log.SetOutput(io.Discard)

	t.Setenv("LOG_LEVEL", "debug")
	Init()
	if Log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v, want debug", Log.GetLevel())
	}

	t.Setenv("LOG_LEVEL", "not-a-level")
	Init()
	if Log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("bad level should fall back to info, got %v", Log.GetLevel())
	}
}
