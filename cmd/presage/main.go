package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"presage/internal/ast"
	"presage/internal/decls"
	"presage/internal/parser"
	"presage/internal/repl"
	"presage/internal/stage"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "run":
		if err := cmdRun(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "stage":
		if err := cmdStage(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "repl":
		if err := cmdRepl(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		usage()
	case "version", "-v", "--version":
		fmt.Println("presage", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Presage staging interpreter

Usage:
  presage run <file.pres>
  presage stage <file.pres> [-o out.pres] [-no-cluster] [-fuel N]
  presage repl

Commands:
  version  Presage version
  run      Evaluate a program fully; runtime() markers pass through
  stage    Partially evaluate a program and emit the residual program
  repl     Interactive staging loop

Flags (run, stage):
  -fuel        Staging step budget (default 100000)
  -verbose     Debug logging
Flags (stage):
  -o           Output file (default: stdout)
  -no-cluster  Keep near-identical specializations separate`)
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fuel := fs.Int("fuel", 0, "staging step budget")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("run: missing input file")
	}

	expr, dir, err := parseFile(fs.Arg(0))
	if err != nil {
		return err
	}
	eng := stage.NewEngine(stage.NewSession(stage.Options{
		Logger: logger(*verbose),
		Fuel:   *fuel,
	}), decls.NewLoader(dir))
	eng.TransparentRuntime = true

	res, err := eng.StageProgram(expr)
	if err != nil {
		return err
	}
	v, ok := res.Known()
	if !ok {
		return fmt.Errorf("program depends on values not available until staging output runs; use `presage stage`")
	}
	fmt.Println(v.String())
	return nil
}

func cmdStage(args []string) error {
	fs := flag.NewFlagSet("stage", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	out := fs.String("o", "", "output file (default: stdout)")
	fuel := fs.Int("fuel", 0, "staging step budget")
	noCluster := fs.Bool("no-cluster", false, "keep near-identical specializations separate")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("stage: missing input file")
	}

	expr, dir, err := parseFile(fs.Arg(0))
	if err != nil {
		return err
	}
	eng := stage.NewEngine(stage.NewSession(stage.Options{
		Logger:    logger(*verbose),
		Fuel:      *fuel,
		NoCluster: *noCluster,
	}), decls.NewLoader(dir))

	res, err := eng.StageProgram(expr)
	if err != nil {
		return err
	}
	printed := ast.Print(res.Program) + "\n"
	if *out == "" {
		fmt.Print(printed)
		return nil
	}
	return os.WriteFile(*out, []byte(printed), 0o644)
}

func cmdRepl(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return repl.Run(os.Stdout, logger(*verbose))
}

func parseFile(path string) (ast.Expr, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("cannot read %s: %v", path, err)
	}
	expr, err := parser.Parse(string(content))
	if err != nil {
		return nil, "", fmt.Errorf("%s: %v", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return expr, ".", nil
	}
	return expr, filepath.Dir(abs), nil
}

func logger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
