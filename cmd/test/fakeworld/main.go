package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// Stands in for the world server or the proxy when trying out a deployment locally
type flagOptions struct {
	Server      bool   `long:"server" description:"accepted for compatibility with the world server"`
	World       string `long:"world" description:"world directory"`
	Config      string `long:"config" description:"world config file"`
	LogFile     string `long:"logfile" description:"file to append log lines to"`
	RunDuration int    `long:"run-duration" description:"exit after this many seconds (0 runs until signalled)"`
	ExitCode    int    `long:"exit-code" description:"exit code used when run-duration elapses"`
	IgnoreTerm  bool   `long:"ignore-term" description:"ignore SIGTERM, so only SIGKILL stops it"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	out, closeOut, err := openLog(opts.LogFile)
	if err != nil {
		fmt.Printf("Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeOut()

	os.Exit(run(opts, out))
}

func openLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

func run(opts flagOptions, out io.Writer) int {
	fmt.Fprintf(out, "fakeworld started, pid: %d, world: %s, config: %s\n", os.Getpid(), opts.World, opts.Config)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if opts.IgnoreTerm {
		signal.Ignore(syscall.SIGTERM)
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	return wait(ctx, sig, opts.ExitCode, out)
}

func wait(ctx context.Context, sig <-chan os.Signal, exitCode int, out io.Writer) int {
	select {
	case received := <-sig:
		fmt.Fprintf(out, "fakeworld received signal: %v\n", received)
		return 0
	case <-ctx.Done():
		fmt.Fprintf(out, "fakeworld run duration elapsed, exit code: %d\n", exitCode)
		return exitCode
	}
}
