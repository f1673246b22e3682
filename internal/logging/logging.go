// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"
)

// Setup configures the standard logger. An unknown level falls back to info.
func Setup(level string, noColors bool) {
	log.SetFormatter(&nested.Formatter{
		HideKeys:        false,
		ShowFullLevel:   true,
		NoColors:        noColors,
		TimestampFormat: "2006-01-02 15:04:05.000",
		FieldsOrder:     []string{"component", "session", "lod", "path"},
	})
	log.SetOutput(output(os.Stdout, noColors))

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func output(w io.Writer, noColors bool) io.Writer {
	if noColors {
		return w
	}
	return ansicolor.NewAnsiColorWriter(w)
}
