package platform

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Hook appends every entry to <logPath>/<date>/<fileName>.log and switches files at midnight.
type Hook struct {
	mu       sync.Mutex
	writer   *os.File
	logPath  string
	fileName string
	fileDate string
}

func NewHook(logPath string, fileName string) (*Hook, error) {
	hook := &Hook{logPath: logPath, fileName: fileName}
	if err := hook.rotate(time.Now().Format("2006-01-02")); err != nil {
		return nil, err
	}
	return hook, nil
}

func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	//需要切换日志文件
	if date := entry.Time.Format("2006-01-02"); date != h.fileDate {
		if err := h.rotate(date); err != nil {
			return err
		}
	}
	_, err = h.writer.Write(line)
	return err
}

func (h *Hook) rotate(date string) error {
	dir := fmt.Sprintf("%s/%s", h.logPath, date)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	writer, err := os.OpenFile(fmt.Sprintf("%s/%s.log", dir, h.fileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if h.writer != nil {
		h.writer.Close()
	}
	h.writer = writer
	h.fileDate = date
	return nil
}

func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writer == nil {
		return nil
	}
	return h.writer.Close()
}

type LogFormatter struct{}

func (m *LogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(b, "[%s] [%s] %s", timestamp, entry.Level, entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// NewLogger builds the application logger. Output goes to stderr; when cfg.Path is set the
// entries are also written to a daily log file.
func NewLogger(cfg LogConfig, fileName string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&LogFormatter{})
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	if cfg.Path != "" {
		hook, err := NewHook(cfg.Path, fileName)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.AddHook(hook)
	}
	return logger, nil
}

// NewDiscardLogger returns a logger that drops everything; used by tests and tools.
func NewDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&LogFormatter{})
	return logger
}
