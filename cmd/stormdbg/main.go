// Package main is the entry point for the stormdbg remote debugger client.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/config"
	"github.com/dshills/stormdbg/internal/control"
	"github.com/dshills/stormdbg/internal/engine"
	"github.com/dshills/stormdbg/internal/event"
	"github.com/dshills/stormdbg/internal/sym"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		addr        string
		agentCmd    string
		logLevel    string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&addr, "addr", "", "Agent address (host:port)")
	flag.StringVar(&agentCmd, "agent", "", "Agent command to launch over stdio")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "stormdbg - remote-agent stepping debugger\n\n")
		fmt.Fprintf(os.Stderr, "Usage: stormdbg [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("stormdbg %s (%s)\n", version, commit)
		return 0
	}

	var opts []config.Option
	if addr != "" {
		opts = append(opts, config.WithAgentAddress(addr))
	}
	if agentCmd != "" {
		parts := strings.Fields(agentCmd)
		opts = append(opts, config.WithAgentCommand(parts[0], parts[1:]...))
	}
	if logLevel != "" {
		opts = append(opts, config.WithLogLevel(logLevel))
	}

	cfg, err := config.Load(configPath, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := newLogger(cfg.Logging)

	transport, err := openTransport(cfg.Agent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: connect to agent: %v\n", err)
		return 1
	}

	client := agent.NewClient(transport, log)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	tables, err := client.Symbols(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: fetch symbols: %v\n", err)
		return 1
	}
	index := sym.NewIndex(tables)

	bus := event.NewBus()
	subscribePrinters(bus)

	eng := engine.New(client, index,
		engine.WithLogger(log),
		engine.WithBus(bus),
		engine.WithPolicy(control.Policy{
			StepOverUnsymbolized: cfg.Stepping.StepOverUnsymbolized,
		}),
	)
	eng.Start()
	defer eng.Close()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		eng.Close()
		client.Close()
		os.Exit(0)
	}()

	return repl(eng)
}

// newLogger builds the slog logger per the logging configuration.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openTransport connects to the agent per the agent configuration.
func openTransport(cfg config.AgentConfig) (agent.Transport, error) {
	if cfg.Mode == "stdio" {
		return agent.NewStdioTransport(exec.Command(cfg.Command, cfg.Args...))
	}
	return agent.NewSocketTransport(cfg.Address)
}

// subscribePrinters prints engine events to stdout.
func subscribePrinters(bus *event.Bus) {
	_, _ = bus.Subscribe(event.TopicThreadStopped, func(evt event.Event) {
		p, ok := evt.Payload.(event.StoppedPayload)
		if !ok {
			return
		}
		fmt.Printf("thread %d stopped (%s)\n%s", p.ThreadID, p.Cause, p.Trace)
	})
	_, _ = bus.Subscribe(event.TopicStepFailed, func(evt event.Event) {
		p, ok := evt.Payload.(event.StepPayload)
		if !ok {
			return
		}
		fmt.Printf("%s failed: %s\n", p.Op, p.Err)
	})
	_, _ = bus.Subscribe(event.TopicProcessExited, func(evt event.Event) {
		p, ok := evt.Payload.(event.ExitedPayload)
		if !ok {
			return
		}
		fmt.Printf("process exited with code %d\n", p.ExitCode)
	})
}

// repl reads stepping commands from stdin until EOF or quit.
func repl(eng *engine.Engine) int {
	scanner := bufio.NewScanner(os.Stdin)
	thread := 1

	fmt.Print("(stormdbg) ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Print("(stormdbg) ")
			continue
		}

		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "quit", "q":
			return 0
		case "thread", "t":
			if n, ok := argInt(args, 0); ok {
				thread = n
			}
		case "continue", "c":
			eng.Continue(thread)
		case "step", "s":
			eng.Step(thread)
		case "stepi", "si":
			eng.StepInstruction(thread)
		case "next", "n":
			eng.StepOver(thread)
		case "finish", "fin":
			idx, _ := argInt(args, 0)
			eng.Finish(thread, idx)
		case "until", "u":
			if len(args) == 0 {
				fmt.Println("usage: until <function|file:line> [older]")
				break
			}
			older := len(args) > 1 && args[1] == "older"
			eng.Until(thread, args[0], older)
		case "break", "b":
			if len(args) == 0 {
				fmt.Println("usage: break <function|file:line>")
				break
			}
			eng.SetBreakpointAt(args[0], func(handle string, err error) {
				if err != nil {
					fmt.Printf("break failed: %v\n", err)
					return
				}
				fmt.Printf("breakpoint set: %s\n", handle)
			})
		case "delete", "d":
			if len(args) > 0 {
				eng.RemoveBreakpoint(args[0])
			}
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
		fmt.Print("(stormdbg) ")
	}
	return 0
}

// argInt parses args[i] as an integer.
func argInt(args []string, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, false
	}
	return n, true
}
