package process

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

const maxOutput = 4096

type Result struct {
	Command []string
	Exit    Exit
	Output  string
}

// RunAsync starts a helper command and returns immediately; onDone is called
// from another goroutine once it exits or ctx expires.
func RunAsync(ctx context.Context, dir string, argv []string, onDone func(Result)) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	started := time.Now()
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		err := cmd.Wait()
		exit := classify(cmd, err)
		exit.Runtime = time.Since(started)
		output := out.String()
		if len(output) > maxOutput {
			output = output[len(output)-maxOutput:]
		}
		onDone(Result{Command: argv, Exit: exit, Output: output})
	}()
	return nil
}
