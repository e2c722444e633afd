// Package logging wraps golog with the structured-event shape used
// across the control plane: every line is a single JSON object with
// an "event" name, a "status", and whatever contextual fields the
// caller supplies.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kataras/golog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var logWriter *os.File

// Options configures the daily-rotating file sink.
type Options struct {
	Level string
	Path  string
	Days  uint
}

// Init points golog at a daily-rotating log file under opts.Path,
// additionally mirroring to stdout, and starts the background
// rotation/retention goroutine. Level "disable" opens no log file and
// suppresses all golog output.
func Init(opts Options) {
	golog.SetTimeFormat("2006/01/02 15:04:05")
	golog.SetLevel(orDefault(opts.Level, "info"))

	rotate := func() {
		if logWriter != nil {
			logWriter.Close()
		}
		if opts.Level == "disable" {
			golog.SetOutput(os.Stdout)
			return
		}
		os.MkdirAll(opts.Path, 0755)
		now := time.Now()
		logFile := fmt.Sprintf("%s/%s.log", opts.Path, now.Format("2006-01-02"))
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			golog.Warn(Event("log_init", "fail", err.Error(), nil))
			return
		}
		logWriter = f
		golog.SetOutput(io.MultiWriter(os.Stdout, logWriter))

		if opts.Days > 0 {
			stale := now.AddDate(0, 0, -int(opts.Days))
			os.Remove(fmt.Sprintf("%s/%s.log", opts.Path, stale.Format("2006-01-02")))
		}
	}
	rotate()

	go func() {
		now := time.Now()
		wait := 24*time.Hour - time.Duration(now.Hour())*time.Hour - time.Duration(now.Minute())*time.Minute - time.Duration(now.Second())*time.Second
		if wait > 0 {
			time.Sleep(wait)
		}
		rotate()
		for range time.NewTicker(24 * time.Hour).C {
			rotate()
		}
	}()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Event assembles a structured log line as a JSON string: event name,
// status, message (if non-empty) and any extra fields.
func Event(event, status, msg string, fields map[string]any) string {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["event"] = event
	if status != "" {
		fields["status"] = status
	}
	if msg != "" {
		fields["msg"] = msg
	}
	out, _ := json.MarshalToString(fields)
	return out
}

func Info(event, status, msg string, fields map[string]any)  { golog.Info(Event(event, status, msg, fields)) }
func Warn(event, status, msg string, fields map[string]any)  { golog.Warn(Event(event, status, msg, fields)) }
func Error(event, status, msg string, fields map[string]any) { golog.Error(Event(event, status, msg, fields)) }
func Debug(event, status, msg string, fields map[string]any) { golog.Debug(Event(event, status, msg, fields)) }
func Fatal(event, status, msg string, fields map[string]any) { golog.Fatal(Event(event, status, msg, fields)) }

// Close restores stdout logging and closes the active log file. Call
// on graceful shutdown.
func Close() {
	golog.SetOutput(os.Stdout)
	if logWriter != nil {
		logWriter.Close()
		logWriter = nil
	}
}
