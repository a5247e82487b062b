package components

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abcfe/abcfe-wallet/internal/console/styles"
)

// LogViewer tails the daemon's daily log file
type LogViewer struct {
	pathPrefix  string
	lines       []LogLine
	maxLines    int
	lastModTime time.Time
	now         func() time.Time
}

// LogLine is one parsed log entry
type LogLine struct {
	Time    string
	Level   string
	Message string
	Raw     string
}

// NewLogViewer creates a viewer for files named <pathPrefix>_<yyyy-mm-dd>.log
func NewLogViewer(pathPrefix string, maxLines int) *LogViewer {
	return &LogViewer{
		pathPrefix: pathPrefix,
		maxLines:   maxLines,
		now:        time.Now,
	}
}

// GetLogPath returns today's log file
func (lv *LogViewer) GetLogPath() string {
	return fmt.Sprintf("%s_%s.log", lv.pathPrefix, lv.now().Format("2006-01-02"))
}

// Refresh rereads the log file when it changed
func (lv *LogViewer) Refresh() error {
	logPath := lv.GetLogPath()

	info, err := os.Stat(logPath)
	if err != nil {
		lv.lines = []LogLine{{
			Level:   "INFO",
			Message: fmt.Sprintf("no log file: %s", logPath),
		}}
		lv.lastModTime = time.Time{}
		return nil
	}
	if info.ModTime().Equal(lv.lastModTime) {
		return nil
	}
	lv.lastModTime = info.ModTime()

	file, err := os.Open(logPath)
	if err != nil {
		return err
	}
	defer file.Close()

	var all []LogLine
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, parseLine(scanner.Text()))
		if len(all) > 4*lv.maxLines {
			all = all[len(all)-lv.maxLines:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(all) > lv.maxLines {
		all = all[len(all)-lv.maxLines:]
	}
	lv.lines = all
	return nil
}

// message fields written by common/logger, in lookup order
var messageKeys = []string{"Info", "Debug", "Warn", "Err", "Crit"}

// parseLine reads a JSON entry such as
// {"level":"INFO","date":"2025-01-03T12:00:00.000+0900","msg":"info","Info":"vault unlocked"}
func parseLine(line string) LogLine {
	result := LogLine{Raw: line, Level: "INFO"}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		result.Message = truncate(line, 80)
		return result
	}

	if level, ok := entry["level"].(string); ok && level != "" {
		result.Level = strings.ToUpper(level)
	}
	if date, ok := entry["date"].(string); ok {
		result.Time = date
		for _, layout := range []string{"2006-01-02T15:04:05.000Z0700", time.RFC3339Nano} {
			if t, err := time.Parse(layout, date); err == nil {
				result.Time = t.Format("15:04:05")
				break
			}
		}
	}
	for _, key := range messageKeys {
		if msg, ok := entry[key].(string); ok {
			result.Message = msg
			break
		}
	}
	if result.Message == "" {
		if msg, ok := entry["msg"].(string); ok {
			result.Message = msg
		}
	}
	return result
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// GetLines returns the buffered lines
func (lv *LogViewer) GetLines() []LogLine {
	return lv.lines
}

// Render renders the viewer
func (lv *LogViewer) Render(width int) string {
	var b strings.Builder

	b.WriteString(styles.HeaderStyle.Render("LOGS"))
	b.WriteString("\n")

	if len(lv.lines) == 0 {
		b.WriteString(styles.MutedStyle.Render("  no log lines"))
		return b.String()
	}

	maxMsgLen := width - 20
	if maxMsgLen < 20 {
		maxMsgLen = 20
	}
	for _, line := range lv.lines {
		timeStr := line.Time
		if timeStr == "" {
			timeStr = "        "
		}
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			styles.MutedStyle.Render(timeStr),
			styles.LogLevelStyle(line.Level).Render(fmt.Sprintf("%-5s", line.Level)),
			truncate(line.Message, maxMsgLen)))
	}

	return b.String()
}
