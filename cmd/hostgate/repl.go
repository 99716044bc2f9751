package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/hostgate/executor"
)

var replCmd = &cobra.Command{
	Use:   "repl [module.wasm]",
	Short: "Interactive shell over one guest instance",
	Long: `Start an interactive shell bound to a single guest instance. Resources
the guest opens stay in its table between invocations.

Each line is an operation name followed by an optional payload:
  greet {"name":"world"}
  upload @request.json

Commands:
  :resources   List open resource handles
  :hostcalls   List registered host calls

Features:
  - Command history (up/down arrows)
  - History search (Ctrl+R)
  - Multi-line payloads (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.hostgate_history)")
	rootCmd.AddCommand(replCmd)
}

// parseReplLine splits "op payload" on the first run of whitespace.
func parseReplLine(line string) (op, payload string) {
	line = strings.TrimSpace(line)
	op, payload, _ = strings.Cut(line, " ")
	return op, strings.TrimSpace(payload)
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	cfg := appConfig

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".hostgate_history")
	}

	wasm, err := readModule(cfg, args)
	if err != nil {
		return err
	}

	env, err := newHostEnv(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	inst, err := env.exec.NewInstance(cmd.Context(), wasm, env.instanceOpts(cfg, os.Stderr)...)
	if err != nil {
		return fmt.Errorf("start instance: %w", err)
	}
	defer inst.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(os.Stderr, "hostgate REPL, instance %d (type 'exit' to quit, Ctrl+D to exit)\n", inst.ID())

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println()
				break
			}
			return fmt.Errorf("read input: %w", err)
		}

		// Handle multi-line input
		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case ":resources":
			printJSON(os.Stdout, inst.Resources())
			continue
		case ":hostcalls":
			for _, name := range env.exec.Registry().List() {
				fmt.Println(name)
			}
			continue
		}

		if !replInvoke(cmd, inst, line) {
			fmt.Fprintln(os.Stderr, "instance closed, exiting")
			return nil
		}
	}
	return nil
}

// replInvoke runs one line and reports whether the instance is still usable.
func replInvoke(cmd *cobra.Command, inst *executor.Instance, line string) bool {
	op, spec := parseReplLine(line)
	payload, err := readPayload(spec, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return true
	}

	out, err := inst.Invoke(cmd.Context(), op, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return !errors.Is(err, executor.ErrTimeout) && !errors.Is(err, executor.ErrInstanceClosed)
	}
	fmt.Print(string(out))
	if !strings.HasSuffix(string(out), "\n") {
		fmt.Println()
	}
	return true
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
