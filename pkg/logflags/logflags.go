// Package logflags decides which layers of piectl produce debug output and
// where that output goes.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var driver = false
var codec = false
var cli = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New()
	logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Out = logOut
	}
	logger.Level = level
	return &logrusLogger{logger.WithFields(logrus.Fields(fields))}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Driver returns true if every exchange with the control device should be
// logged.
func Driver() bool {
	return driver
}

// DriverLogger returns a logger for the driver package.
func DriverLogger() Logger {
	return makeFlaggableLogger(driver, Fields{"layer": "driver"})
}

// Codec returns true if reading and writing configuration documents should
// be logged.
func Codec() bool {
	return codec
}

// CodecLogger returns a logger for the codec package.
func CodecLogger() Logger {
	return makeFlaggableLogger(codec, Fields{"layer": "codec"})
}

// CLI returns true if command line dispatch should be logged.
func CLI() bool {
	return cli
}

// CLILogger returns a logger for the command line front end.
func CLILogger() Logger {
	return makeFlaggableLogger(cli, Fields{"layer": "cli"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "piectl-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "cli"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "driver":
			driver = true
		case "codec":
			codec = true
		case "cli":
			cli = true
		default:
			return fmt.Errorf("unknown log output %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}
