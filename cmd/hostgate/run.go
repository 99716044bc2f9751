package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/hostgate/executor"
)

var runCmd = &cobra.Command{
	Use:   "run [module.wasm]",
	Short: "Invoke one guest operation",
	Long: `Load a waPC module, invoke a single operation and print the guest's
response to stdout.

The payload can be provided via:
  - Inline flag: hostgate run guest.wasm --op greet --payload '{"name":"x"}'
  - File: hostgate run guest.wasm --op greet --payload @request.json
  - Stdin: echo '{}' | hostgate run guest.wasm --op greet --payload -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("op", "o", "", "Operation to invoke")
	runCmd.Flags().StringP("payload", "p", "", "Payload: literal, @file, or - for stdin")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	op, _ := cmd.Flags().GetString("op")
	payloadSpec, _ := cmd.Flags().GetString("payload")
	cfg := appConfig

	if op == "" {
		return errors.New("--op is required")
	}

	wasm, err := readModule(cfg, args)
	if err != nil {
		return err
	}
	payload, err := readPayload(payloadSpec, cmd.InOrStdin())
	if err != nil {
		return err
	}

	env, err := newHostEnv(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	inst, err := env.exec.NewInstance(cmd.Context(), wasm, env.instanceOpts(cfg, cmd.ErrOrStderr())...)
	if err != nil {
		return err
	}
	defer inst.Close()

	out, err := inst.Invoke(cmd.Context(), op, payload)
	if err != nil {
		var guestErr *executor.GuestError
		if errors.As(err, &guestErr) {
			return fmt.Errorf("guest: %s", guestErr.Message)
		}
		return err
	}

	w := cmd.OutOrStdout()
	w.Write(out)
	if len(out) > 0 && !bytes.HasSuffix(out, []byte("\n")) {
		fmt.Fprintln(w)
	}
	return nil
}
