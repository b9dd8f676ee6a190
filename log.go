package dcrwtclient

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/decred/dcrwtclient/internal/build"
	"github.com/decred/dcrwtclient/rpcplugin"
	"github.com/decred/dcrwtclient/wtclient"
	"github.com/decred/dcrwtclient/wtdb"
	"github.com/decred/dcrwtclient/wthttp"
	"github.com/decred/dcrwtclient/wtretry"
	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it write to the backend. When adding a new
// subsystem, add its logger variable here and to the subsystemLoggers map.
//
// Until initLogRotator attaches a log file during startup, log output goes
// to stderr only.
var (
	logWriter = &build.LogWriter{}

	backendLog = slog.NewBackend(logWriter)

	logRotator *rotator.Rotator

	wtclLog = build.NewSubLogger("WTCL", backendLog)
	wtdbLog = build.NewSubLogger("WTDB", backendLog)
	wthtLog = build.NewSubLogger("WTHT", backendLog)
	wtryLog = build.NewSubLogger("WTRY", backendLog)
	rpcpLog = build.NewSubLogger("RPCP", backendLog)
)

func init() {
	wtclient.UseLogger(wtclLog)
	wtdb.UseLogger(wtdbLog)
	wthttp.UseLogger(wthtLog)
	wtretry.UseLogger(wtryLog)
	rpcplugin.UseLogger(rpcpLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]slog.Logger{
	"WTCL": wtclLog,
	"WTDB": wtdbLog,
	"WTHT": wthtLog,
	"WTRY": wtryLog,
	"RPCP": rpcpLog,
}

// InitLogging wires up log rotation to logFile and sets every subsystem to
// the default level. It must be called once, early in the plugin binary's
// startup, before any subsystem logs.
func InitLogging(logFile string) {
	initLogRotator(logFile, 10, 3)
	setLogLevels("info")
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string, maxLogFileSize, maxLogFiles int) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.SetFile(pw)
	logRotator = r
}

// setLogLevel sets the logging level for the given subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for every subsystem logger.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
