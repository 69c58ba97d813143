package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-llm-trader/internal/trader"
)

const (
	recordSeparator  = "------------------------------"
	sectionSeparator = "============================================================"
	timeLayout       = "2006-01-02 15:04:05 UTC"
)

// Logger maintains the append-only audit trail: the prompts sent to the
// model, its raw responses, its extracted reasoning, a human-readable
// trading history, and a one-line-per-event alarm file. These files are the
// record of why the agent did what it did; structured logs complement them
// but do not replace them.
type Logger struct {
	dir         string
	inputPath   string
	outputPath  string
	thinkPath   string
	historyPath string
	alarmPath   string

	mu  sync.Mutex
	log zerolog.Logger
}

// NewLogger creates the audit directory layout under dir and writes a
// banner into each file that does not exist yet.
func NewLogger(dir string, log zerolog.Logger) (*Logger, error) {
	if dir == "" {
		dir = "."
	}
	streamDir := filepath.Join(dir, "history")
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	l := &Logger{
		dir:         dir,
		inputPath:   filepath.Join(streamDir, "input.txt"),
		outputPath:  filepath.Join(streamDir, "output.txt"),
		thinkPath:   filepath.Join(streamDir, "think.txt"),
		historyPath: filepath.Join(dir, "history.txt"),
		alarmPath:   filepath.Join(dir, "alarm.txt"),
		log:         log,
	}

	banners := map[string]string{
		l.inputPath:   "AI INPUT LOG - full prompts sent to the model",
		l.outputPath:  "AI OUTPUT LOG - raw model responses",
		l.thinkPath:   "AI THINKING LOG - extracted reasoning",
		l.historyPath: "TRADING HISTORY - cycles and orders",
		l.alarmPath:   "ALARMS - one line per event",
	}
	for path, title := range banners {
		if err := l.ensureBanner(path, title); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Logger) ensureBanner(path, title string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	banner := fmt.Sprintf("%s\n%s\nStarted: %s\n%s\n\n",
		sectionSeparator, title, time.Now().UTC().Format(timeLayout), sectionSeparator)
	if err := os.WriteFile(path, []byte(banner), 0o644); err != nil {
		return fmt.Errorf("init %s: %w", path, err)
	}
	return nil
}

// LogInput appends the full prompt for one cycle to the input stream.
func (l *Logger) LogInput(cycle int, systemPrompt, userPrompt string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle #%d\n\n--- SYSTEM ---\n%s\n\n--- USER ---\n%s\n", cycle, systemPrompt, userPrompt)
	l.appendRecord(l.inputPath, b.String())
}

// LogOutput appends the raw model response for one cycle.
func (l *Logger) LogOutput(cycle int, raw string) {
	l.appendRecord(l.outputPath, fmt.Sprintf("Cycle #%d\n\n%s\n", cycle, raw))
}

// LogThinking appends the extracted reasoning, skipping empty extractions.
func (l *Logger) LogThinking(cycle int, thinking string) {
	if strings.TrimSpace(thinking) == "" {
		return
	}
	l.appendRecord(l.thinkPath, fmt.Sprintf("Cycle #%d\n\n%s\n", cycle, thinking))
}

// CycleRecord summarizes one completed cycle for the trading history file.
type CycleRecord struct {
	Cycle        int
	Partial      bool
	Quality      string
	Decisions    int
	Executed     int
	Skipped      int
	Failed       int
	SweptOrphans int
	Elapsed      time.Duration
}

// LogCycle appends a cycle summary to history.txt.
func (l *Logger) LogCycle(rec CycleRecord) {
	var b strings.Builder
	fmt.Fprintf(&b, "CYCLE #%d (%.0fs)\n", rec.Cycle, rec.Elapsed.Seconds())
	fmt.Fprintf(&b, "analysis quality: %s | snapshot partial: %v\n", rec.Quality, rec.Partial)
	fmt.Fprintf(&b, "decisions: %d executed, %d skipped, %d failed of %d\n",
		rec.Executed, rec.Skipped, rec.Failed, rec.Decisions)
	if rec.SweptOrphans > 0 {
		fmt.Fprintf(&b, "orphaned protective orders swept: %d\n", rec.SweptOrphans)
	}
	l.appendRecord(l.historyPath, b.String())
}

// LogExecution appends one execution report to history.txt.
func (l *Logger) LogExecution(rep *trader.Report, reason string) {
	var b strings.Builder
	fmt.Fprintf(&b, "ORDER %s %s -> %s\n", rep.Symbol, rep.Action, rep.State)
	if rep.Quantity > 0 {
		fmt.Fprintf(&b, "quantity: %.8g", rep.Quantity)
		if rep.FillPrice > 0 {
			fmt.Fprintf(&b, " @ %.8g", rep.FillPrice)
		}
		b.WriteString("\n")
	}
	for _, o := range rep.Orders {
		sim := ""
		if o.Simulated {
			sim = " [simulated]"
		}
		fmt.Fprintf(&b, "  %-12s %s %s qty %.8g", o.Purpose, o.Side, o.Type, o.Quantity)
		if o.Price > 0 {
			fmt.Fprintf(&b, " price %.8g", o.Price)
		}
		if o.StopPrice > 0 {
			fmt.Fprintf(&b, " stop %.8g", o.StopPrice)
		}
		fmt.Fprintf(&b, " (%s)%s\n", o.Status, sim)
	}
	for _, n := range rep.Notes {
		fmt.Fprintf(&b, "  note: %s\n", n)
	}
	if reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", reason)
	}
	if rep.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", rep.Error)
	}
	l.appendRecord(l.historyPath, b.String())
}

// LogSkip records a decision that was not executed and why.
func (l *Logger) LogSkip(symbol, action, why string) {
	l.appendRecord(l.historyPath, fmt.Sprintf("SKIP %s %s\nreason: %s\n", symbol, action, why))
}

// Alarm appends one line to alarm.txt: ISO timestamp, separator, message.
// Alarms are events a human should see: exhausted retries, safety
// rejections, unexpected exchange answers.
func (l *Logger) Alarm(message string) {
	line := fmt.Sprintf("%s — %s\n", time.Now().UTC().Format(time.RFC3339), strings.ReplaceAll(message, "\n", " "))
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := appendFile(l.alarmPath, line); err != nil {
		l.log.Error().Err(err).Msg("alarm write failed")
	}
	l.log.Warn().Str("alarm", message).Msg("alarm raised")
}

func (l *Logger) appendRecord(path, content string) {
	record := fmt.Sprintf("[%s]\n%s%s\n\n", time.Now().UTC().Format(timeLayout), content, recordSeparator)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := appendFile(path, record); err != nil {
		l.log.Error().Err(err).Str("path", path).Msg("audit write failed")
	}
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}
