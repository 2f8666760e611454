// Package logger provides structured logging using zap.
package logger

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the active log file inside the log directory. Rotated
// backups share its prefix.
const FileName = "dmiscope.log"

// Log is the global logger instance. It discards everything until Init is
// called.
var Log = zap.NewNop()

// Sugar is the sugared logger for convenient logging.
var Sugar = Log.Sugar()

// FileConfig describes the rotating log file. Sizes are megabytes and ages
// are days, as lumberjack counts them.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileConfig keeps three compressed 50 MB backups for a week.
func DefaultFileConfig(path string) FileConfig {
	return FileConfig{
		Path:       path,
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// Init initializes the logger with the given level and, when logDir is
// set, a rotating file in logDir keeping at most maxFiles files.
func Init(level string, logDir string, maxFiles int) error {
	if logDir == "" {
		return InitWithFileConfig(level, FileConfig{}, true)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	cfg := DefaultFileConfig(filepath.Join(logDir, FileName))
	// lumberjack reads 0 backups as unlimited; PruneDir enforces the rest.
	if maxFiles > 1 {
		cfg.MaxBackups = maxFiles - 1
	}
	return InitWithFileConfig(level, cfg, true)
}

// InitWithFileConfig replaces Log and Sugar. Entries go to stderr when
// consoleOutput is set and to a rotating file when fileCfg.Path is set;
// with neither, logging is discarded. An unrecognized level falls back to
// info and is reported once through the new logger.
func InitWithFileConfig(level string, fileCfg FileConfig, consoleOutput bool) error {
	lvl, levelErr := ParseLevel(level)

	var cores []zapcore.Core
	if consoleOutput {
		enc := encoderConfig(zapcore.TimeEncoderOfLayout("15:04:05"))
		if !color.NoColor {
			enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		// Stdout carries command output.
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), lvl))
	}
	if fileCfg.Path != "" {
		enc := encoderConfig(zapcore.ISO8601TimeEncoder)
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(fileCfg.writer()), lvl))
	}

	Log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	Sugar = Log.Sugar()
	if levelErr != nil {
		Log.Warn("unknown log level, using info", zap.String("level", level))
	}
	return nil
}

// ParseLevel maps a configured level name to a zap level. Names are case
// insensitive and "warning" is accepted for warn. The empty string means
// info.
func ParseLevel(name string) (zapcore.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		name = "warn"
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel, err
	}
	return lvl, nil
}

// encoderConfig is the line layout shared by the console and the file:
// time, level, caller, then the message and fields.
func encoderConfig(timeEnc zapcore.TimeEncoder) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		CallerKey:        "caller",
		EncodeTime:       timeEnc,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}

func (c FileConfig) writer() *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
		// Backup names carry local time, which PruneDir sorts by mtime anyway.
		LocalTime: true,
	}
}

// Sync flushes buffered entries. Errors from syncing a terminal are
// expected and dropped.
func Sync() {
	_ = Log.Sync()
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	Log.Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	Log.Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	Log.Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	Log.Error(msg, fields...)
}

// Fatal logs a fatal message and exits.
func Fatal(msg string, fields ...zap.Field) {
	Log.Fatal(msg, fields...)
}
