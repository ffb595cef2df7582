// Package log4gox adds a colour console writer and level setup on top of
// log4go.
package log4gox

import (
	"fmt"
	"io"
	"os"
	"strings"

	l4g "github.com/alecthomas/log4go"
	"github.com/pkg/errors"
)

var stdout io.Writer = os.Stdout

/*
foreground  background  colour
---------------------------------------
30          40          black
31          41          red
32          42          green
33          43          yellow
34          44          blue
35          45          magenta
36          46          cyan
37          47          white
*/
var (
	levelColor   = [...]int{30, 30, 32, 37, 37, 33, 31, 34}
	levelStrings = [...]string{"FNST", "FINE", "DEBG", "TRAC", "INFO", "WARN", "EROR", "CRIT"}
)

const (
	colorSymbol = 0x1B
)

// ConsoleLogWriter prints coloured records to an io.Writer.
type ConsoleLogWriter chan *l4g.LogRecord

// NewColorConsoleLogWriter starts a writer on out; nil means stdout.
func NewColorConsoleLogWriter(out io.Writer) ConsoleLogWriter {
	if nil == out {
		out = stdout
	}
	records := make(ConsoleLogWriter, l4g.LogBufferLength)
	go records.run(out)
	return records
}

func (w ConsoleLogWriter) run(out io.Writer) {
	var timestr string
	var timestrAt int64

	for rec := range w {
		if at := rec.Created.UnixNano() / 1e9; at != timestrAt {
			timestr, timestrAt = rec.Created.Format("01/02/06 15:04:05"), at
		}
		fmt.Fprintf(out, "%c[%dm[%s] [%s] (%s) %s\n%c[0m",
			colorSymbol,
			levelColor[rec.Level],
			timestr,
			levelStrings[rec.Level],
			rec.Source,
			rec.Message,
			colorSymbol)
	}
}

// LogWrite blocks if the output buffer is full.
func (w ConsoleLogWriter) LogWrite(rec *l4g.LogRecord) {
	w <- rec
}

// Close stops the writer. Writing after Close panics.
func (w ConsoleLogWriter) Close() {
	close(w)
}

var levels = map[string]l4g.Level{
	"finest": l4g.FINEST,
	"fine":   l4g.FINE,
	"debug":  l4g.DEBUG,
	"trace":  l4g.TRACE,
	"info":   l4g.INFO,
	"warn":   l4g.WARNING,
	"error":  l4g.ERROR,
}

// ParseLevel maps a config level name to a log4go level.
func ParseLevel(name string) (l4g.Level, error) {
	lvl, ok := levels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return l4g.INFO, errors.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

// Setup replaces the global log4go filters with one coloured console
// writer at the given level.
func Setup(level string, out io.Writer) error {
	lvl, err := ParseLevel(level)
	if nil != err {
		return err
	}
	l4g.Close()
	l4g.Global = l4g.Logger{}
	l4g.AddFilter("stdout", lvl, NewColorConsoleLogWriter(out))
	return nil
}
