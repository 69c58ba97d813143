package history

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-llm-trader/internal/trader"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := NewLogger(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return l, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestNewLoggerCreatesBanners(t *testing.T) {
	_, dir := newTestLogger(t)

	for _, path := range []string{
		filepath.Join(dir, "history", "input.txt"),
		filepath.Join(dir, "history", "output.txt"),
		filepath.Join(dir, "history", "think.txt"),
		filepath.Join(dir, "history.txt"),
		filepath.Join(dir, "alarm.txt"),
	} {
		content := readFile(t, path)
		if !strings.Contains(content, sectionSeparator) {
			t.Errorf("%s missing banner separator", path)
		}
		if !strings.Contains(content, "Started:") {
			t.Errorf("%s missing start timestamp", path)
		}
	}
}

func TestBannersNotRewrittenOnReopen(t *testing.T) {
	l, dir := newTestLogger(t)
	l.Alarm("first event")

	// A second logger over the same directory must append, not reset.
	l2, err := NewLogger(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l2.Alarm("second event")

	content := readFile(t, filepath.Join(dir, "alarm.txt"))
	if !strings.Contains(content, "first event") || !strings.Contains(content, "second event") {
		t.Errorf("alarm history lost on reopen:\n%s", content)
	}
	if strings.Count(content, "Started:") != 1 {
		t.Error("banner written twice")
	}
}

func TestAlarmFormat(t *testing.T) {
	l, dir := newTestLogger(t)
	l.Alarm("retries exhausted on GET /fapi/v2/account")

	content := readFile(t, filepath.Join(dir, "alarm.txt"))
	lines := strings.Split(strings.TrimSpace(content), "\n")
	last := lines[len(lines)-1]

	re := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z — retries exhausted`)
	if !re.MatchString(last) {
		t.Errorf("alarm line %q does not match timestamp format", last)
	}
}

func TestAlarmFlattensNewlines(t *testing.T) {
	l, dir := newTestLogger(t)
	l.Alarm("line one\nline two")

	content := readFile(t, filepath.Join(dir, "alarm.txt"))
	if strings.Contains(content, "line one\nline two") {
		t.Error("alarm messages must stay on one line")
	}
	if !strings.Contains(content, "line one line two") {
		t.Error("flattened message missing")
	}
}

func TestLogInputOutputThinking(t *testing.T) {
	l, dir := newTestLogger(t)
	l.LogInput(3, "system prompt text", "user prompt text")
	l.LogOutput(3, `{"recommendations": []}`)
	l.LogThinking(3, "funding is neutral, momentum weak")
	l.LogThinking(4, "   ") // blank: must be skipped

	input := readFile(t, filepath.Join(dir, "history", "input.txt"))
	if !strings.Contains(input, "Cycle #3") || !strings.Contains(input, "user prompt text") {
		t.Error("input record incomplete")
	}
	if !strings.Contains(input, recordSeparator) {
		t.Error("input record missing separator")
	}

	think := readFile(t, filepath.Join(dir, "history", "think.txt"))
	if !strings.Contains(think, "momentum weak") {
		t.Error("thinking record missing")
	}
	if strings.Contains(think, "Cycle #4") {
		t.Error("blank thinking should not be logged")
	}
}

func TestLogCycleAndExecution(t *testing.T) {
	l, dir := newTestLogger(t)

	rep := &trader.Report{
		Symbol:    "BTCUSDT",
		Action:    "long",
		State:     trader.StateDone,
		Quantity:  0.016,
		FillPrice: 30000,
		Orders: []trader.OrderRecord{
			{Purpose: "entry", Side: "BUY", Type: "MARKET", Quantity: 0.016, Status: "FILLED"},
			{Purpose: "stop_loss", Side: "SELL", Type: "STOP_MARKET", Quantity: 0.016, StopPrice: 29500, Status: "NEW"},
		},
		Notes: []string{"protective price adjusted 30010 -> 29999.9 (last 30000)"},
	}
	l.LogExecution(rep, "breakout retest")
	l.LogSkip("ETHUSDT", "short", "confidence 55 below threshold 60")
	l.LogCycle(CycleRecord{Cycle: 1, Quality: "full", Decisions: 2, Executed: 1, Skipped: 1, Elapsed: 12 * time.Second})

	content := readFile(t, filepath.Join(dir, "history.txt"))
	for _, want := range []string{
		"ORDER BTCUSDT long -> done",
		"stop_loss",
		"protective price adjusted",
		"reason: breakout retest",
		"SKIP ETHUSDT short",
		"CYCLE #1",
		"1 executed, 1 skipped",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("history.txt missing %q:\n%s", want, content)
		}
	}
}
