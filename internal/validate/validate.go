// Package validate checks untrusted tool arguments before they can reach a
// debugger subprocess.
//
// Three kinds of input are accepted from the agent: the binary to debug, a
// breakpoint location and an expression (also used for breakpoint
// conditions). Each is checked against a conservative shape; a rejected value
// never produces a write to the debugger.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ctagard/dbg-mcp/internal/errors"
)

// DefaultMaxExpressionLength is used when a Validator is built with a zero limit
const DefaultMaxExpressionLength = 1024

// Validator holds the configured limits
type Validator struct {
	allowedPaths  []string
	maxExprLength int
}

// New creates a validator. allowedPaths are doublestar globs matched against
// the absolute binary path; an empty list allows any regular file.
func New(allowedPaths []string, maxExprLength int) *Validator {
	if maxExprLength <= 0 {
		maxExprLength = DefaultMaxExpressionLength
	}
	return &Validator{
		allowedPaths:  allowedPaths,
		maxExprLength: maxExprLength,
	}
}

// --- binary_path ---

// safePathChar reports whether r may appear in a binary path
func safePathChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '.', '_', '/', '+', '-', '@', '~', ' ':
		return true
	}
	return r == os.PathSeparator
}

// BinaryPath validates a user supplied executable path and returns its
// absolute form, which is the only value handed to the subprocess.
func (v *Validator) BinaryPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.BadPath(path, "path is empty")
	}
	for _, r := range path {
		if !safePathChar(r) {
			return "", errors.BadPath(path, fmt.Sprintf("character %q is not allowed", r))
		}
	}
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == os.PathSeparator }) {
		if seg == ".." {
			return "", errors.BadPath(path, "path traversal ('..') is not allowed")
		}
	}
	if strings.HasPrefix(path, "-") {
		return "", errors.BadPath(path, "path must not start with '-'")
	}

	p := path
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.BadPath(path, "cannot resolve home directory").WithCause(err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.BadPath(path, "cannot resolve absolute path").WithCause(err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.BadPath(path, "file does not exist").WithDetails("resolved", abs)
		}
		return "", errors.BadPath(path, "cannot stat file").WithCause(err).WithDetails("resolved", abs)
	}
	if !info.Mode().IsRegular() {
		return "", errors.BadPath(path, "not a regular file").WithDetails("resolved", abs)
	}

	if len(v.allowedPaths) > 0 {
		ok, err := matchAny(abs, v.allowedPaths)
		if err != nil {
			return "", errors.BadPath(path, err.Error())
		}
		if !ok {
			return "", errors.BadPath(path, "binary is outside the allowed paths").
				WithDetails("resolved", abs).
				WithDetails("allowedPaths", v.allowedPaths)
		}
	}

	return abs, nil
}

// matchAny checks if a path matches any of the glob patterns.
func matchAny(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// --- location ---

// Location is a validated breakpoint target: either a function or file+line
type Location struct {
	Function string
	File     string
	Line     int
}

// String renders the location the way the agent supplied it
func (l Location) String() string {
	if l.Function != "" {
		return l.Function
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// IsFunction reports whether the location names a function
func (l Location) IsFunction() bool {
	return l.Function != ""
}

var (
	// main, my_crate::parser::parse, Foo::~Foo, operator-free C++ names
	functionRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(::~?[A-Za-z_][A-Za-z0-9_]*)*$`)
	// src/lib.rs:42
	fileLineRe = regexp.MustCompile(`^([A-Za-z0-9._/+@\-]+):([0-9]+)$`)
)

// Location validates a breakpoint location
func (v *Validator) Location(loc string) (Location, error) {
	if loc == "" {
		return Location{}, errors.BadLocation(loc, "location is empty")
	}
	if functionRe.MatchString(loc) {
		return Location{Function: loc}, nil
	}
	m := fileLineRe.FindStringSubmatch(loc)
	if m == nil {
		return Location{}, errors.BadLocation(loc, "expected a function name or file:line")
	}
	if strings.HasPrefix(m[1], "-") {
		return Location{}, errors.BadLocation(loc, "file must not start with '-'")
	}
	line, err := strconv.Atoi(m[2])
	if err != nil || line <= 0 {
		return Location{}, errors.BadLocation(loc, "line must be a positive integer")
	}
	return Location{File: m[1], Line: line}, nil
}

// --- expression ---

// Debugger commands that must never appear as the first word of an expression
var adminCommands = map[string]bool{
	"shell": true, "platform": true, "script": true, "python": true, "python-interactive": true,
	"pipe": true, "source": true, "command": true, "settings": true, "target": true,
	"process": true, "quit": true, "kill": true, "detach": true, "attach": true,
	"run": true, "define": true, "guile": true, "file": true, "set": true,
	"signal": true, "call": true, "jump": true, "dump": true, "restore": true,
}

var (
	// functions that reach the operating system from inside the debuggee.
	// Any reference is refused, so casts and parenthesized names cannot call them.
	dangerousNameRe = regexp.MustCompile(`\b(system|popen|exec[lv]p?e?|execvpe|fork|vfork|dlopen|dlsym|posix_spawnp?)\b`)
	// common words that are only refused next to a call or a cast
	dangerousCallRe = regexp.MustCompile(`\b(kill|unlink|remove|rmdir)\s*[()]`)
	firstWordRe     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*`)
)

// Expression validates an expression for evaluation. The returned string is
// the expression with surrounding whitespace trimmed.
func (v *Validator) Expression(expr string) (string, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return "", errors.BadExpression(expr, "expression is empty")
	}
	if len(expr) > v.maxExprLength {
		return "", errors.BadExpression(expr, fmt.Sprintf("expression is %d bytes; the limit is %d", len(expr), v.maxExprLength))
	}
	for _, r := range expr {
		if r == '\t' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			return "", errors.BadExpression(expr, "control characters and line breaks are not allowed")
		}
	}
	if strings.HasPrefix(trimmed, "!") {
		return "", errors.BadExpression(expr, "a leading '!' is a shell escape; write (!x) instead")
	}
	if strings.ContainsRune(trimmed, '`') {
		return "", errors.BadExpression(expr, "backticks are not allowed")
	}
	if strings.ContainsRune(trimmed, ';') {
		return "", errors.BadExpression(expr, "statement separators (';') are not allowed")
	}
	if strings.Contains(trimmed, "$_shell") {
		return "", errors.BadExpression(expr, "$_shell is not allowed")
	}
	if m := dangerousNameRe.FindStringSubmatch(trimmed); m != nil {
		return "", errors.BadExpression(expr, fmt.Sprintf("referencing %s is not allowed", m[1]))
	}
	if m := dangerousCallRe.FindStringSubmatch(trimmed); m != nil {
		return "", errors.BadExpression(expr, fmt.Sprintf("calling %s() is not allowed", m[1]))
	}
	if w := firstWordRe.FindString(trimmed); w != "" {
		rest := strings.TrimSpace(trimmed[len(w):])
		// a bare identifier like `process` or `target` is still a variable name
		if adminCommands[w] && rest != "" && !startsOperator(rest) {
			return "", errors.BadExpression(expr, fmt.Sprintf("'%s' is a debugger command", w))
		}
	}
	return trimmed, nil
}

// startsOperator reports whether s continues an expression rather than
// supplying arguments to a command
func startsOperator(s string) bool {
	if strings.HasPrefix(s, "->") {
		return true
	}
	switch s[0] {
	case '.', '*', '/', '%', '=', '<', '>', '&', '|', '^', '[', '(', '?', ',', ')', ']':
		return true
	}
	return false
}

// Condition validates a breakpoint condition; an empty condition is allowed
func (v *Validator) Condition(cond string) (string, error) {
	if strings.TrimSpace(cond) == "" {
		return "", nil
	}
	return v.Expression(cond)
}
