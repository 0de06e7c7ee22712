package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/tiercache"
)

func TestLevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	l.Debug("hidden", nil)
	l.Warn("restore failed", tiercache.Fields{"id": "resolve|a"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %s", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, `id=resolve|a`) {
		t.Fatalf("unexpected output: %s", out)
	}
}
