package runner

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command template into argv.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}

// ValidateTemplate checks a configured command prefix for shell constructs.
// exec never interprets them, but their presence means the template was
// written for a shell and would not behave as the operator expects.
func ValidateTemplate(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// ParseTemplate splits and validates a configured command template.
func ParseTemplate(command string) ([]string, error) {
	args, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	if err := ValidateTemplate(args); err != nil {
		return nil, err
	}
	return args, nil
}

// ValidateArgs rejects argument values that cannot be passed through argv safely.
func ValidateArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("argument contains NUL byte")
		}
	}
	return nil
}
