package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// Logger prints CLI progress with colored prefixes
type Logger struct {
	Verbose bool
	Debug   bool

	// Out and Err default to os.Stdout and os.Stderr
	Out io.Writer
	Err io.Writer
}

func (l Logger) out() io.Writer {
	if l.Out == nil {
		return os.Stdout
	}
	return l.Out
}

func (l Logger) err() io.Writer {
	if l.Err == nil {
		return os.Stderr
	}
	return l.Err
}

func (l Logger) Infof(msg string, args ...any) {
	if l.Verbose || l.Debug {
		fmt.Fprintf(l.out(), color.GreenString("[info] ")+msg+"\n", args...)
	}
}

func (l Logger) Debugf(msg string, args ...any) {
	if l.Debug {
		fmt.Fprintf(l.out(), color.CyanString("[debug] ")+msg+"\n", args...)
	}
}

func (l Logger) Warnf(msg string, args ...any) {
	fmt.Fprintf(l.err(), color.YellowString("[warn] ")+msg+"\n", args...)
}

func (l Logger) Errorf(msg string, args ...any) {
	fmt.Fprintf(l.err(), color.RedString("[error] ")+msg+"\n", args...)
}

// ErrorfAndReturn logs the message and returns it as an error
func (l Logger) ErrorfAndReturn(msg string, args ...any) error {
	l.Errorf(msg, args...)
	return fmt.Errorf(msg, args...)
}

// Library returns the logger handed to the biosecure library. Library
// events are shown only with --debug.
func (l Logger) Library() *zerolog.Logger {
	if !l.Debug {
		nop := zerolog.Nop()
		return &nop
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: l.err(), NoColor: color.NoColor}).
		With().Timestamp().Logger().Level(zerolog.DebugLevel)
	return &logger
}
