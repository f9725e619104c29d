package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	permission    = 0o664
	dirPermission = 0o755
)

// LogBuild collects logger options before Make is called.
type LogBuild struct {
	writer io.Writer
	path   string
	level  string
}

// LogData is the built logger and the file it writes to, if any.
type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func New() *LogBuild {
	return &LogBuild{}
}

// FromPath also appends every entry to the file at path, creating parent
// directories when needed.
func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

// FromWriter replaces the console output.
func (build *LogBuild) FromWriter(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

func (build *LogBuild) Level(level string) *LogBuild {
	build.level = level
	return build
}

func (build *LogBuild) Make() (*LogData, error) {
	logData := new(LogData)

	console := build.writer
	if console == nil {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}

	writers := []io.Writer{console}
	if build.path != "" {
		if err := os.MkdirAll(filepath.Dir(build.path), dirPermission); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logData.LogFile = f
		writers = append(writers, zerolog.SyncWriter(f))
	}

	level := zerolog.InfoLevel
	if build.level != "" {
		parsed, err := zerolog.ParseLevel(build.level)
		if err != nil {
			logData.Close()
			return nil, fmt.Errorf("invalid log level %q: %w", build.level, err)
		}
		level = parsed
	}

	logData.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return logData, nil
}

// Close closes the log file.
func (logData *LogData) Close() error {
	if logData.LogFile == nil {
		return nil
	}
	return logData.LogFile.Close()
}
