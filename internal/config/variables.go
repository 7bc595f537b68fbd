package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Variable pattern matches ${...} expressions
var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveVariables replaces all ${...} variables in the given text.
// Supported: ${userHome}, ${cwd}, ${pathSeparator}, ${env:NAME}.
func ResolveVariables(text string) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var lastErr error
	result := variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		expr := match[2 : len(match)-1]

		resolved, err := resolveVariable(expr)
		if err != nil {
			lastErr = err
			return match // Keep original if error
		}
		return resolved
	})

	return result, lastErr
}

func resolveVariable(expr string) (string, error) {
	switch {
	case expr == "userHome":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home: %w", err)
		}
		return home, nil

	case expr == "cwd":
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get cwd: %w", err)
		}
		return cwd, nil

	case expr == "pathSeparator":
		return string(os.PathSeparator), nil

	case strings.HasPrefix(expr, "env:"):
		return os.Getenv(strings.TrimPrefix(expr, "env:")), nil

	default:
		return "", fmt.Errorf("unknown variable: ${%s}", expr)
	}
}

// ResolveStringSlice resolves variables in all strings in a slice.
func ResolveStringSlice(values []string) ([]string, error) {
	if values == nil {
		return nil, nil
	}
	result := make([]string, len(values))
	for i, v := range values {
		resolved, err := ResolveVariables(v)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve element %d: %w", i, err)
		}
		result[i] = resolved
	}
	return result, nil
}
