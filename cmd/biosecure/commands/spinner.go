package commands

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// startSpinner shows message while a non-interactive step runs. It stays
// silent when output is verbose or stderr is not a terminal.
func startSpinner(message string, log Logger, w io.Writer) func() {
	f, ok := w.(*os.File)
	if log.Verbose || log.Debug || !ok || !term.IsTerminal(int(f.Fd())) {
		log.Infof("%s", message)
		return func() {}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	if err := s.Color("cyan"); err != nil {
		log.Debugf("Failed to set spinner color: %v", err)
	}
	s.Start()

	return s.Stop
}
