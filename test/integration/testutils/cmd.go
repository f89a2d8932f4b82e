package testutils

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

var multiSpaceRegex = regexp.MustCompile(" +")

// RunTaskflow executes a taskflow command with the given arguments string (split by spaces).
// Use RunTaskflowArgs when arguments contain spaces that should be preserved.
func RunTaskflow(ctx context.Context, env []string, binary, cmdArgs string, nolog bool) (stdout, stderr []byte, err error) {
	cmdArgs = strings.TrimSpace(cmdArgs)
	cmdArgs = multiSpaceRegex.ReplaceAllString(cmdArgs, " ")

	var args []string
	if cmdArgs != "" {
		args = strings.Split(cmdArgs, " ")
	}

	return RunTaskflowArgs(ctx, env, binary, args, nolog)
}

// RunTaskflowArgs executes a taskflow command with pre-split arguments.
func RunTaskflowArgs(ctx context.Context, env []string, binary string, args []string, nolog bool) (stdout, stderr []byte, err error) {
	var outData, errData bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &outData
	cmd.Stderr = &errData
	cmd.Env = commandEnv(env, nolog)

	err = cmd.Run()

	return outData.Bytes(), errData.Bytes(), err
}

// StartTaskflow starts a long running taskflow command, it is killed when the context is cancelled.
func StartTaskflow(ctx context.Context, env []string, binary string, args []string, stderr *bytes.Buffer) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = stderr
	cmd.Env = commandEnv(env, false)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// commandEnv returns os.Environ() with the custom env on top, the last duplicated key wins.
func commandEnv(env []string, nolog bool) []string {
	newEnv := append([]string{}, os.Environ()...)
	newEnv = append(newEnv, env...)
	if nolog {
		newEnv = append(newEnv, "TASKFLOW_NO_LOG=true")
	}
	return newEnv
}
