// Command lspmux multiplexes many LSP clients onto one upstream language
// server: it spawns the server as a subprocess speaking LSP over stdio,
// then listens on a Unix domain socket for client connections, handing
// each one to its own broker.Binding sharing the single
// broker.LanguageClient.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rlch/lspmux/broker"
	"github.com/rlch/lspmux/internal/config"
	"github.com/rlch/lspmux/internal/logging"
	"github.com/rlch/lspmux/internal/transport"
)

// syncSections collects repeated -sync-section flags into
// config.Options.SynchronizeConfigurationSections.
type syncSections []string

func (s *syncSections) String() string { return strings.Join(*s, ",") }
func (s *syncSections) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var (
	socketFlag           = flag.String("socket", "/tmp/lspmux.sock", "Unix socket path to listen on for client connections")
	serverFlag           = flag.String("server", "", "Upstream language server command line, e.g. \"gopls serve\"")
	debugFlag            = flag.Bool("debug", false, "Enable debug logging")
	traceFlag            = flag.Bool("trace", false, "Enable trace logging (very verbose; currently aliases -debug)")
	logfileFlag          = flag.String("logfile", "", "Log file path (in addition to window/logMessage fan-out)")
	disableSaveFlag      = flag.Bool("disable-save-notifications", false, "Suppress willSave/didSave forwarding to the upstream server")
	interceptWatchedFlag = flag.Bool("intercept-watched-files", false, "Claim didChangeWatchedFiles and require an explicit NotifyFileChanges call instead of forwarding client file-change events")
	syncSectionsFlag     syncSections
)

func init() {
	flag.Var(&syncSectionsFlag, "sync-section", "Configuration section to push via didChangeConfiguration at startup (repeatable)")
}

func main() {
	flag.Parse()

	if *serverFlag == "" {
		fmt.Fprintln(os.Stderr, "lspmux: -server is required")
		os.Exit(2)
	}

	var level zapcore.Level
	switch {
	case *traceFlag:
		level = zapcore.DebugLevel
	case *debugFlag:
		level = zapcore.DebugLevel
	default:
		level = zapcore.InfoLevel
	}

	startupLogger, err := newStderrLogger(level)
	if err != nil {
		panic(err)
	}
	startupLogger.Info("starting lspmux",
		zap.String("server", *serverFlag),
		zap.String("socket", *socketFlag),
		zap.Bool("debug", *debugFlag),
		zap.Bool("trace", *traceFlag),
		zap.Strings("sync-sections", syncSectionsFlag))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, startupLogger, level); err != nil {
		if errors.Is(err, context.Canceled) {
			startupLogger.Info("shutting down")
			return
		}
		startupLogger.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, startupLogger *zap.Logger, level zapcore.Level) error {
	upstream, err := dialUpstream(ctx, *serverFlag)
	if err != nil {
		return fmt.Errorf("starting upstream server: %w", err)
	}

	localCore := newLocalCore(level, *logfileFlag, startupLogger)
	fanout := logging.NewFanoutCore(level)
	logger := logging.New(localCore, fanout)

	opts := config.Options{
		ServerName:                       "lspmux",
		Logger:                           logger,
		RegisterLogClient:                fanout.Register,
		DisableSaveNotifications:         *disableSaveFlag,
		SynchronizeConfigurationSections: syncSectionsFlag,
	}
	if *interceptWatchedFlag {
		// The bare CLI flag claims file-watch ownership outright: every
		// client-forwarded event is dropped, and a host embedding lspmux
		// as a library would drive LanguageClient.NotifyFileChanges itself
		// instead (spec.md §6 "interceptDidChangeWatchedFile"). lspmux's
		// own cmd binary has no such host logic, so enabling this flag
		// here only stops events from reaching the upstream server.
		opts.InterceptDidChangeWatchedFile = func(uri string, kind int) bool { return false }
	}

	lc := broker.New(transport.Dial(upstream), opts)

	listener, err := listenUnix(*socketFlag)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", *socketFlag, err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	startupLogger.Info("accepting client connections", zap.String("socket", *socketFlag))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return err
		}

		id := uuid.NewString()
		binding := broker.NewBinding(id, transport.Dial(conn), lc, opts)

		go func() {
			cause, err := binding.Attach(ctx)
			logger.Info("binding detached",
				zap.String("binding", id),
				zap.String("cause", cause.String()),
				zap.Error(err))
		}()
	}
}

// dialUpstream spawns the upstream language server command line and wires
// its stdin/stdout as the duplex stream the broker's LanguageClient
// connects over, the same stdio wiring the teacher used for its own
// single-client connection, aimed instead at the server side.
func dialUpstream(ctx context.Context, commandLine string) (io.ReadWriteCloser, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("empty -server command line")
	}

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processStream{stdout: stdout, stdin: stdin, cmd: cmd}, nil
}

// processStream wraps a subprocess's stdout/stdin into one
// io.ReadWriteCloser, the same pattern the teacher's readWriteCloser used
// for splitting os.Stdin/os.Stdout.
type processStream struct {
	stdout io.ReadCloser
	stdin  io.WriteCloser
	cmd    *exec.Cmd
}

func (p *processStream) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processStream) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *processStream) Close() error {
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	return p.cmd.Process.Kill()
}

// listenUnix removes a stale socket file left by a prior run before
// binding, mirroring the usual Unix-socket-server idiom.
func listenUnix(path string) (net.Listener, error) {
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

func newStderrLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func newLocalCore(level zapcore.Level, logfile string, startupLogger *zap.Logger) zapcore.Core {
	if logfile == "" {
		return zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(os.Stderr),
			level,
		)
	}
	file, err := os.OpenFile(logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		startupLogger.Warn("failed to open logfile, falling back to stderr", zap.Error(err))
		return zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(os.Stderr),
			level,
		)
	}
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(file),
		level,
	)
}
