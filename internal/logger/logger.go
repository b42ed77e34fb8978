package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

type LogBuild struct {
	writer  io.Writer
	path    string
	level   string
	console bool
}

type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func New() *LogBuild {
	return &LogBuild{}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// WithLevel accepts zerolog level names; unknown or empty names mean info.
func (build *LogBuild) WithLevel(level string) *LogBuild {
	build.level = level
	return build
}

// Console switches to zerolog's human readable output.
func (build *LogBuild) Console(enabled bool) *LogBuild {
	build.console = enabled
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	writer := build.writer
	if writer == nil {
		writer = os.Stdout
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	if build.console {
		writer = zerolog.ConsoleWriter{Out: writer, NoColor: build.path != ""}
	}

	level, err := zerolog.ParseLevel(build.level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logData.Logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logData, nil
}

// Close releases the log file, if any.
func (logData *LogData) Close() error {
	if logData.LogFile == nil {
		return nil
	}
	return logData.LogFile.Close()
}
