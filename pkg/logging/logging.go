// Package logging provides leveled logging for proofread. Messages go to the
// standard log package, or to a size-rotated file when a log file is configured.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

// ModeFlag is the minimum severity that gets written
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

// Logger records messages at different severities.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown makes sure logs are closed.
	Shutdown()
}

var (
	mu     sync.RWMutex
	mode          = InfoMode
	logger Logger = stdLogger{}
)

// LogConfig describes where logs are written. An empty Logfile keeps output on stderr.
type LogConfig struct {
	Logfile string `yaml:"file" env:"LOG_FILE"`
	MaxSize int    `yaml:"maxSize" env:"LOG_MAX_SIZE"` // megabytes
	MaxAge  int    `yaml:"maxAge" env:"LOG_MAX_AGE"`   // days
	Verbose bool   `yaml:"verbose" env:"VERBOSE"`
}

// SetLogger installs the logger described by the config.
func (c *LogConfig) SetLogger() {
	if c != nil && c.Verbose {
		SetLogMode(DebugMode)
	}
	if c == nil || c.Logfile == "" {
		Infof("Sending log messages to stderr since no log file specified.")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	SetLogger(stdLogger{out: l, closer: l})
}

// SetLogger replaces the package-level logger.
func SetLogger(l Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetOutput sends the standard logger to w; used by tests to capture output.
func SetOutput(w io.Writer) {
	SetLogger(stdLogger{out: w})
}

// SetLogMode sets the severity required for a message to be printed.
// SetLogMode(WarningMode) logs Warningf, Errorf and Criticalf only.
func SetLogMode(newMode ModeFlag) {
	mu.Lock()
	mode = newMode
	mu.Unlock()
}

func current(level ModeFlag) Logger {
	mu.RLock()
	defer mu.RUnlock()
	if mode > level {
		return nil
	}
	return logger
}

func Debugf(format string, args ...interface{}) {
	if l := current(DebugMode); l != nil {
		l.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if l := current(InfoMode); l != nil {
		l.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if l := current(WarningMode); l != nil {
		l.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if l := current(ErrorMode); l != nil {
		l.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if l := current(CriticalMode); l != nil {
		l.Criticalf(format, args...)
	}
}

// Shutdown closes the current logger.
func Shutdown() {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Shutdown()
}

// TimeLog appends the elapsed time since its creation to each message.
//
//	tlog := logging.NewTimeLog()
//	...
//	tlog.Infof("loaded %s", path) // "loaded x.tif: 1.2s"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	Debugf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	Infof(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	Warningf(format+": %s", append(args, time.Since(t.start))...)
}

// stdLogger prefixes messages with their severity and writes them through a
// *log.Logger. A nil out means the standard library's default logger.
type stdLogger struct {
	out    io.Writer
	closer io.Closer
}

func (s stdLogger) printf(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(" "+level+" "+format, args...)
	if s.out == nil {
		log.Print(msg)
		return
	}
	log.New(s.out, "", log.LstdFlags).Print(msg)
}

// Debugf formats its arguments analogous to fmt.Printf and records the text as a log
// message at Debug level.
func (s stdLogger) Debugf(format string, args ...interface{}) {
	s.printf("DEBUG", format, args...)
}

// Infof is like Debugf, but at Info level.
func (s stdLogger) Infof(format string, args ...interface{}) {
	s.printf("INFO", format, args...)
}

// Warningf is like Debugf, but at Warning level.
func (s stdLogger) Warningf(format string, args ...interface{}) {
	s.printf("WARNING", format, args...)
}

// Errorf is like Debugf, but at Error level.
func (s stdLogger) Errorf(format string, args ...interface{}) {
	s.printf("ERROR", format, args...)
}

// Criticalf is like Debugf, but at Critical level.
func (s stdLogger) Criticalf(format string, args ...interface{}) {
	s.printf("CRITICAL", format, args...)
}

func (s stdLogger) Shutdown() {
	if s.closer != nil {
		fmt.Fprintln(os.Stderr, "Closing log file...")
		s.closer.Close()
	}
}
