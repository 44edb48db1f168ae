// Package repl implements the interactive staging loop.
package repl

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"presage/internal/ast"
	"presage/internal/decls"
	"presage/internal/parser"
	"presage/internal/stage"
)

const prompt = "presage> "

const helpText = `Each line is a whole expression. Commands:
  :stage <expr>  show the residual program instead of evaluating
  :help          this help
  :quit, :q      leave`

// Run drives the interactive loop until EOF or :quit. Every line is
// staged in a fresh session, so sessions never leak state into each
// other.
func Run(out io.Writer, logger *slog.Logger) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, ".presage_history")
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if histPath == "" {
			return
		}
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	cwd, _ := os.Getwd()
	loader := decls.NewLoader(cwd)

	for {
		src, err := line.Prompt(prompt)
		if err == liner.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		line.AppendHistory(src)

		switch src {
		case ":quit", ":q":
			return nil
		case ":help":
			fmt.Fprintln(out, helpText)
			continue
		}
		residualOnly := false
		if rest, ok := strings.CutPrefix(src, ":stage "); ok {
			residualOnly = true
			src = rest
		}
		eval(out, logger, loader, src, residualOnly)
	}
}

func eval(out io.Writer, logger *slog.Logger, loader stage.Loader, src string, residualOnly bool) {
	expr, err := parser.Parse(src)
	if err != nil {
		fmt.Fprintln(out, "parse error:", err)
		return
	}
	eng := stage.NewEngine(stage.NewSession(stage.Options{Logger: logger}), loader)
	res, err := eng.StageProgram(expr)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	if v, ok := res.Known(); ok && !residualOnly {
		fmt.Fprintln(out, v.String())
		return
	}
	fmt.Fprintln(out, ast.Print(res.Program))
}
