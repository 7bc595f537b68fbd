// Package fakedbg is a scripted stand-in for lldb and gdb used by tests.
//
// A test binary calls Main from TestMain. When EnvMode is set the binary
// behaves as a debugger speaking the requested dialect on stdin/stdout and
// never returns; otherwise Main returns and the tests run normally. Pointing a
// backend path at os.Args[0] therefore spawns the fake as a real subprocess.
//
// The debuggee is a fixed program:
//
//	sample.c:5   int x = 42;          (main)
//	sample.c:6   int y = x + 1;
//	sample.c:7   int r = compute(x);
//	sample.c:20  return n * 2;        (compute)
//	sample.c:8   return r - 84;
//
// after which it exits with status 0. In the ":segv" modes reaching line 8
// raises SIGSEGV instead.
//
// A few expressions script debugger misbehavior: "slow" never answers,
// "hang" stops reading stdin and "die" makes the debugger exit.
package fakedbg

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
)

// EnvMode selects the dialect: "lldb", "gdb", "lldb:segv" or "gdb:segv"
const EnvMode = "DBG_MCP_FAKE_DEBUGGER"

// PID is the debuggee process id the fake reports
const PID = 4242

// Main turns the current process into the fake debugger when EnvMode is set
func Main() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	os.Exit(Run(mode, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// Setup selects mode for subprocesses started by the test and writes a binary
// to debug. It returns the debugger path to configure and the binary path.
func Setup(t testing.TB, mode string) (debugger, binary string) {
	t.Helper()
	t.Setenv(EnvMode, mode)
	binary = filepath.Join(t.TempDir(), "sample")
	if err := os.WriteFile(binary, []byte("\x7fELF fake"), 0o755); err != nil {
		t.Fatalf("write sample binary: %v", err)
	}
	return os.Args[0], binary
}

type position struct {
	fn   string
	line int
}

var program = []position{
	{"main", 5},
	{"main", 6},
	{"main", 7},
	{"compute", 20},
	{"main", 8},
}

const segvIndex = 4

var source = map[int]string{
	5:  "  int x = 42;",
	6:  "  int y = x + 1;",
	7:  "  int r = compute(x);",
	8:  "  return r - 84;",
	20: "  return n * 2;",
}

type breakpoint struct {
	id  int
	at  *position
	loc string
}

type debugger struct {
	gdb  bool
	segv bool
	bin  string

	out *bufio.Writer
	err *bufio.Writer

	breakpoints []breakpoint
	nextBP      int
	values      int

	running bool
	idx     int

	// silent suppresses the prompt after the current command
	silent bool
}

// Run executes the fake with the given dialect and argument vector
func Run(mode string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	d := &debugger{
		gdb:    strings.HasPrefix(mode, "gdb"),
		segv:   strings.HasSuffix(mode, ":segv"),
		out:    bufio.NewWriter(stdout),
		err:    bufio.NewWriter(stderr),
		nextBP: 1,
	}
	d.bin = binaryArg(args, d.gdb)
	d.startup()

	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		if code, quit := d.handle(cmd); quit {
			d.flush()
			return code
		}
		if d.silent {
			d.silent = false
			d.flush()
			continue
		}
		d.prompt()
	}
	return 0
}

func binaryArg(args []string, gdb bool) string {
	flag := "--file"
	if gdb {
		flag = "--args"
	}
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func (d *debugger) println(format string, a ...interface{}) {
	fmt.Fprintf(d.out, format+"\n", a...)
}

func (d *debugger) errorln(format string, a ...interface{}) {
	fmt.Fprintf(d.err, format+"\n", a...)
}

func (d *debugger) flush() {
	d.err.Flush()
	d.out.Flush()
}

func (d *debugger) prompt() {
	d.flush()
	if d.gdb {
		d.out.WriteString("(gdb) ")
	} else {
		d.out.WriteString("(lldb) ")
	}
	d.out.Flush()
}

func (d *debugger) loaded() bool {
	return d.bin != "" && !strings.HasSuffix(d.bin, ".txt")
}

func (d *debugger) startup() {
	if d.gdb {
		if d.loaded() {
			d.println("Reading symbols from %s...", d.bin)
		} else {
			d.errorln("\"%s\": not in executable format: file format not recognized", d.bin)
		}
	} else {
		d.println("(lldb) target create %q", d.bin)
		if d.loaded() {
			d.println("Current executable set to '%s' (x86_64).", d.bin)
		} else {
			d.errorln("error: '%s' doesn't contain any 'host' platform architectures: x86_64", d.bin)
		}
	}
	d.prompt()
}

var (
	lldbBreakNameRe = regexp.MustCompile(`^breakpoint set --name (\S+)`)
	lldbBreakFileRe = regexp.MustCompile(`^breakpoint set --file (\S+) --line (\d+)`)
	gdbBreakRe      = regexp.MustCompile(`^break (\S+?)(?::(\d+))?(?: if .*)?$`)
	gdbExprRe       = regexp.MustCompile(`^(print|whatis) \((.*)\)$`)
)

// handle runs one command; quit is true when the debugger should exit
func (d *debugger) handle(cmd string) (code int, quit bool) {
	switch {
	case cmd == "":
		return 0, false
	case cmd == "quit":
		return 0, true
	case strings.HasPrefix(cmd, "settings set "), strings.HasPrefix(cmd, "set "):
		return 0, false
	}

	if d.gdb {
		return d.handleGDB(cmd)
	}
	return d.handleLLDB(cmd)
}

func (d *debugger) handleLLDB(cmd string) (int, bool) {
	switch {
	case cmd == "target list":
		if d.loaded() {
			d.println("Current targets:")
			d.println("* target #0: %s ( arch=x86_64-unknown-linux-gnu, platform=host )", d.bin)
		} else {
			d.println("No targets.")
		}
	case strings.HasPrefix(cmd, "breakpoint set "):
		if m := lldbBreakNameRe.FindStringSubmatch(cmd); m != nil {
			d.addBreakpoint(m[1], "", 0)
		} else if m := lldbBreakFileRe.FindStringSubmatch(cmd); m != nil {
			line, _ := strconv.Atoi(m[2])
			d.addBreakpoint(m[1]+":"+m[2], m[1], line)
		} else {
			d.errorln("error: invalid combination of options for the given command")
		}
	case cmd == "process launch":
		if d.running {
			d.errorln("error: process is already running")
			break
		}
		d.running = true
		d.println("Process %d launched: '%s' (x86_64)", PID, d.bin)
		d.runFrom(0)
	case cmd == "process continue":
		if !d.running {
			d.errorln("error: Process must be launched.")
			break
		}
		d.println("Process %d resuming", PID)
		d.runFrom(d.idx + 1)
	case cmd == "thread step-over":
		d.step(d.overIndex())
	case cmd == "thread step-in":
		d.step(d.idx + 1)
	case cmd == "thread step-out":
		d.step(d.outIndex())
	case strings.HasPrefix(cmd, "expression -- "):
		return d.evaluate(strings.TrimPrefix(cmd, "expression -- "), false)
	case strings.HasPrefix(cmd, "frame variable "):
		d.frameVariable(strings.TrimPrefix(cmd, "frame variable "))
	case cmd == "thread backtrace":
		if !d.running {
			d.errorln("error: Command requires a current process.")
			break
		}
		d.println("* thread #1, name = 'sample', stop reason = breakpoint 1.1")
		for i, f := range d.stack() {
			marker := " "
			if i == 0 {
				marker = "*"
			}
			d.println("  %s frame #%d: %s", marker, i, d.lldbFrame(f))
		}
	case cmd == "frame info":
		if !d.running {
			d.errorln("error: Command requires a current process.")
			break
		}
		d.println("frame #0: %s", d.lldbFrame(program[d.idx]))
	default:
		d.errorln("error: '%s' is not a valid command.", strings.Fields(cmd)[0])
	}
	return 0, false
}

func (d *debugger) handleGDB(cmd string) (int, bool) {
	switch {
	case cmd == "info files":
		if d.loaded() {
			d.println("Symbols from \"%s\".", d.bin)
			d.println("Local exec file:")
			d.println("\t`%s', file type elf64-x86-64.", d.bin)
		} else {
			d.errorln("No executable file now.")
		}
	case strings.HasPrefix(cmd, "break "):
		m := gdbBreakRe.FindStringSubmatch(cmd)
		if m == nil {
			d.errorln("malformed linespec error: unexpected string")
			break
		}
		if m[2] != "" {
			line, _ := strconv.Atoi(m[2])
			d.addBreakpoint(m[1]+":"+m[2], m[1], line)
		} else {
			d.addBreakpoint(m[1], "", 0)
		}
	case cmd == "run":
		d.running = true
		d.println("Starting program: %s ", d.bin)
		d.runFrom(0)
	case cmd == "continue":
		if !d.running {
			d.errorln("The program is not being run.")
			break
		}
		d.println("Continuing.")
		d.runFrom(d.idx + 1)
	case cmd == "next":
		d.step(d.overIndex())
	case cmd == "step":
		d.step(d.idx + 1)
	case cmd == "finish":
		if d.running && program[d.idx].fn == "main" {
			d.errorln("\"finish\" not meaningful in the outermost frame.")
			break
		}
		if d.running {
			d.println("Run till exit from #0  compute (n=42) at sample.c:20")
		}
		d.step(d.outIndex())
	case gdbExprRe.MatchString(cmd):
		m := gdbExprRe.FindStringSubmatch(cmd)
		return d.evaluate(m[2], m[1] == "whatis")
	case cmd == "backtrace", cmd == "frame":
		if !d.running {
			d.errorln("No stack.")
			break
		}
		frames := d.stack()
		if cmd == "frame" {
			frames = frames[:1]
		}
		for i, f := range frames {
			d.println("#%d  %s", i, d.gdbFrame(f, i > 0))
		}
	default:
		d.errorln("Undefined command: \"%s\".  Try \"help\".", strings.Fields(cmd)[0])
	}
	return 0, false
}

// resolve maps a breakpoint location onto the program
func resolve(fn, file string, line int) *position {
	if file == "" {
		for i := range program {
			if program[i].fn == fn {
				return &program[i]
			}
		}
		return nil
	}
	if filepath.Base(file) != "sample.c" {
		return nil
	}
	for i := range program {
		if program[i].line == line {
			return &program[i]
		}
	}
	return nil
}

func (d *debugger) addBreakpoint(loc, file string, line int) {
	id := d.nextBP
	d.nextBP++
	at := resolve(loc, file, line)
	d.breakpoints = append(d.breakpoints, breakpoint{id: id, at: at, loc: loc})

	if d.gdb {
		if at == nil {
			if file != "" {
				d.errorln("No source file named %s.", file)
			} else {
				d.errorln("Function \"%s\" not defined.", loc)
			}
			d.println("Breakpoint %d (%s) pending.", id, loc)
			return
		}
		d.println("Breakpoint %d at %s: file sample.c, line %d.", id, address(*at), at.line)
		return
	}

	if at == nil {
		d.println("Breakpoint %d: no locations (pending).", id)
		d.println("WARNING:  Unable to resolve breakpoint to any actual locations.")
		return
	}
	d.println("Breakpoint %d: where = sample`%s + 4 at sample.c:%d:3, address = %s", id, at.fn, at.line, address(*at))
}

func (d *debugger) breakpointAt(i int) (int, bool) {
	for _, bp := range d.breakpoints {
		if bp.at != nil && *bp.at == program[i] {
			return bp.id, true
		}
	}
	return 0, false
}

func address(p position) string {
	return fmt.Sprintf("0x%016x", 0x401100+p.line*4)
}

// runFrom resumes execution at program index start
func (d *debugger) runFrom(start int) {
	time.Sleep(5 * time.Millisecond)
	for i := start; i < len(program); i++ {
		if d.segv && i == segvIndex {
			d.idx = i
			d.signalStop()
			return
		}
		if id, ok := d.breakpointAt(i); ok {
			d.idx = i
			d.breakpointStop(id)
			return
		}
	}
	d.exit()
}

func (d *debugger) overIndex() int {
	if program[d.idx] == (position{"main", 7}) {
		return d.idx + 2
	}
	return d.idx + 1
}

func (d *debugger) outIndex() int {
	if program[d.idx].fn == "compute" {
		return d.idx + 1
	}
	return len(program)
}

func (d *debugger) step(next int) {
	if !d.running {
		if d.gdb {
			d.errorln("The program is not being run.")
		} else {
			d.errorln("error: Command requires a current process.")
		}
		return
	}
	time.Sleep(5 * time.Millisecond)
	if next >= len(program) {
		d.exit()
		return
	}
	prev := program[d.idx]
	d.idx = next
	if d.segv && next == segvIndex {
		d.signalStop()
		return
	}
	at := program[next]

	if d.gdb {
		if at.fn != prev.fn {
			d.println("%s", d.gdbFrame(at, false))
		}
		d.println("%d\t%s", at.line, source[at.line])
		if prev.fn == "compute" && at.fn == "main" {
			d.println("Value returned is $%d = 84", d.nextValue())
		}
		return
	}
	d.println("Process %d stopped", PID)
	reason := "step over"
	if at.fn != prev.fn {
		reason = "step in"
	}
	d.println("* thread #1, name = 'sample', stop reason = %s", reason)
	d.println("    frame #0: %s", d.lldbFrame(at))
	d.sourceListing(at)
}

func (d *debugger) breakpointStop(id int) {
	at := program[d.idx]
	if d.gdb {
		d.println("")
		d.println("Breakpoint %d, %s", id, d.gdbFrame(at, false))
		d.println("%d\t%s", at.line, source[at.line])
		return
	}
	d.println("Process %d stopped", PID)
	d.println("* thread #1, name = 'sample', stop reason = breakpoint %d.1", id)
	d.println("    frame #0: %s", d.lldbFrame(at))
	d.sourceListing(at)
}

func (d *debugger) signalStop() {
	at := program[d.idx]
	if d.gdb {
		d.println("")
		d.println("Program received signal SIGSEGV, Segmentation fault.")
		d.println("%s", d.gdbFrame(at, true))
		d.println("%d\t%s", at.line, source[at.line])
		return
	}
	d.println("Process %d stopped", PID)
	d.println("* thread #1, name = 'sample', stop reason = signal SIGSEGV: invalid address (fault address: 0x0)")
	d.println("    frame #0: %s", d.lldbFrame(at))
	d.sourceListing(at)
}

func (d *debugger) exit() {
	d.running = false
	d.idx = 0
	if d.gdb {
		d.println("[Inferior 1 (process %d) exited normally]", PID)
		return
	}
	d.println("Process %d exited with status = 0 (0x00000000) ", PID)
}

func (d *debugger) sourceListing(at position) {
	d.println("   %d   \t", at.line-1)
	d.println("-> %d   \t%s", at.line, source[at.line])
}

// stack lists the frames from innermost outwards
func (d *debugger) stack() []position {
	at := program[d.idx]
	if at.fn == "compute" {
		return []position{at, {"main", 7}}
	}
	return []position{at}
}

func (d *debugger) lldbFrame(p position) string {
	fn := p.fn
	if fn == "compute" {
		fn = "compute(n=42)"
	}
	return fmt.Sprintf("%s sample`%s at sample.c:%d:3", address(p), fn, p.line)
}

func (d *debugger) gdbFrame(p position, withAddress bool) string {
	args := "()"
	if p.fn == "compute" {
		args = "(n=42)"
	}
	prefix := ""
	if withAddress {
		prefix = address(p) + " in "
	}
	return fmt.Sprintf("%s%s %s at sample.c:%d", prefix, p.fn, args, p.line)
}

func (d *debugger) nextValue() int {
	n := d.values
	d.values++
	if d.gdb {
		return n + 1
	}
	return n
}

// scope returns the variables visible at the current position
func (d *debugger) scope() map[string]int {
	if !d.running {
		return nil
	}
	at := program[d.idx]
	if at.fn == "compute" {
		return map[string]int{"n": 42}
	}
	vars := map[string]int{"x": 42}
	if at.line > 6 {
		vars["y"] = 43
	}
	if at.line > 7 {
		vars["r"] = 84
	}
	return vars
}

func (d *debugger) operand(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	v, ok := d.scope()[s]
	return v, ok
}

// evaluate handles print, whatis and expression
func (d *debugger) evaluate(expr string, typeOnly bool) (int, bool) {
	switch expr {
	case "slow":
		d.silent = true
		return 0, false
	case "hang":
		d.flush()
		time.Sleep(time.Hour)
	case "die":
		d.flush()
		return 3, true
	}
	value, typ, ok := 0, "int", true
	if expr == "sizeof(int)" {
		value, typ = 4, "unsigned long"
	} else if a, b, found := strings.Cut(expr, "+"); found {
		x, okA := d.operand(a)
		y, okB := d.operand(b)
		value, ok = x+y, okA && okB
	} else {
		value, ok = d.operand(expr)
	}

	if !ok {
		ident := expr
		for _, n := range strings.Fields(strings.ReplaceAll(expr, "+", " ")) {
			if _, known := d.operand(n); !known {
				ident = n
				break
			}
		}
		if d.gdb {
			d.errorln("No symbol \"%s\" in current context.", ident)
		} else {
			d.errorln("error: <user expression %d>:1:1: use of undeclared identifier '%s'", d.values, ident)
		}
		return 0, false
	}

	switch {
	case typeOnly:
		d.println("type = %s", typ)
	case d.gdb:
		d.println("$%d = %d", d.nextValue(), value)
	default:
		d.println("(%s) $%d = %d", typ, d.nextValue(), value)
	}
	return 0, false
}

// frameVariable handles lldb's frame variable; "opt" is only reachable here
func (d *debugger) frameVariable(name string) {
	if !d.running {
		d.errorln("error: Command requires a current process.")
		return
	}
	if name == "opt" {
		d.println("(Option<i32>) opt = Some(7)")
		return
	}
	if v, ok := d.scope()[name]; ok {
		d.println("(int) %s = %d", name, v)
		return
	}
	d.errorln("error: no variable named '%s' found in this frame", name)
}
