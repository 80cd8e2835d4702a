// Package cliapp implements the interactive redicore-cli REPL: a thin
// terminal front end over an rpool.Pool, issuing raw commands and
// formatting replies the way redis-cli does.
package cliapp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/duskfin/redicore/resp"
	"github.com/duskfin/redicore/rpool"
)

// Config holds the settings RunCLI needs; connection settings live on the
// Pool passed in, not here.
type Config struct {
	Raw     bool
	Eval    string
	File    string
	Pipe    bool
	Timeout time.Duration
}

// History is a bounded ring of previously entered commands, navigable with
// the up/down arrows during interactive input.
type History struct {
	commands []string
	position int
	maxSize  int
}

func NewHistory(maxSize int) *History {
	return &History{commands: make([]string, 0, maxSize), maxSize: maxSize}
}

func (h *History) Add(cmd string) {
	if cmd == "" || (len(h.commands) > 0 && h.commands[len(h.commands)-1] == cmd) {
		return
	}
	h.commands = append(h.commands, cmd)
	if len(h.commands) > h.maxSize {
		h.commands = h.commands[1:]
	}
	h.position = len(h.commands)
}

func (h *History) Previous() string {
	if len(h.commands) == 0 {
		return ""
	}
	if h.position >= len(h.commands) {
		h.position = len(h.commands) - 1
		return h.commands[h.position]
	}
	if h.position > 0 {
		h.position--
	}
	return h.commands[h.position]
}

func (h *History) Next() string {
	if len(h.commands) == 0 || h.position >= len(h.commands)-1 {
		h.position = len(h.commands)
		return ""
	}
	h.position++
	return h.commands[h.position]
}

// parseArgs splits a line of input on whitespace into a command name and
// its arguments. Quotes are not interpreted, so no argument can contain
// whitespace.
func parseArgs(line string) (string, []resp.Arg) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	args := make([]resp.Arg, len(fields)-1)
	for i, f := range fields[1:] {
		args[i] = f
	}
	return fields[0], args
}

func formatValue(v resp.Value, raw bool) string {
	if raw {
		return v.Text()
	}
	switch v.Kind {
	case resp.KindSimpleString:
		return string(v.Str)
	case resp.KindError:
		return "(error) " + v.Err.Error()
	case resp.KindInteger:
		return fmt.Sprintf("(integer) %d", v.Int)
	case resp.KindBulkString:
		if v.Null {
			return "(nil)"
		}
		return string(v.Str)
	case resp.KindArray:
		if v.Null {
			return "(nil)"
		}
		if len(v.Array) == 0 {
			return "(empty array)"
		}
		lines := make([]string, len(v.Array))
		for i, e := range v.Array {
			lines[i] = fmt.Sprintf("%d) %s", i+1, formatValue(e, false))
		}
		return strings.Join(lines, "\n")
	default:
		return v.String()
	}
}

type executor struct {
	pool    *rpool.Pool
	timeout time.Duration
}

func (e *executor) run(line string) (resp.Value, error) {
	name, args := parseArgs(line)
	if name == "" {
		return resp.Value{}, fmt.Errorf("empty command")
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	conn, err := e.pool.Acquire(ctx, "")
	if err != nil {
		return resp.Value{}, fmt.Errorf("acquiring connection: %w", err)
	}
	defer e.pool.Release(conn)

	return conn.Send(ctx, name, args...)
}

// RunCLI dispatches to one-shot, file, pipe, or interactive mode, in that
// priority order, mirroring redis-cli's own precedence.
func RunCLI(pool *rpool.Pool, cfg *Config, args []string) int {
	ex := &executor{pool: pool, timeout: cfg.Timeout}

	switch {
	case cfg.Eval != "":
		return runOne(ex, cfg.Eval, cfg.Raw)
	case len(args) > 0:
		return runOne(ex, strings.Join(args, " "), cfg.Raw)
	case cfg.File != "":
		return runFile(ex, cfg.File, cfg.Raw)
	case cfg.Pipe:
		return runPipe(ex, cfg.Raw)
	default:
		return runInteractive(ex, cfg.Raw)
	}
}

func runOne(ex *executor, line string, raw bool) int {
	v, err := ex.run(line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Println(formatValue(v, raw))
	return 0
}

func runFile(ex *executor, filename string, raw bool) int {
	f, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening %s: %v\n", filename, err)
		return 1
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := ex.run(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(formatValue(v, raw))
	}
	return 0
}

func runPipe(ex *executor, raw bool) int {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := ex.run(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(formatValue(v, raw))
	}
	return 0
}

func runInteractive(ex *executor, raw bool) int {
	fmt.Println("redicore-cli")
	fmt.Println("Type a command, 'help', or 'quit'.")

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return runInteractiveFallback(ex, raw)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return runInteractiveFallback(ex, raw)
	}
	defer term.Restore(fd, oldState)

	history := NewHistory(200)
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("\r\nredicore> ")
		line, err := readLineRaw(reader, history)
		if err != nil {
			if err == io.EOF {
				break
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		history.Add(line)

		v, err := ex.run(line)
		if err != nil {
			fmt.Printf("\r\n(error) %v", err)
			continue
		}
		fmt.Print("\r\n" + strings.ReplaceAll(formatValue(v, raw), "\n", "\r\n"))
	}
	fmt.Print("\r\nbye\r\n")
	return 0
}

func runInteractiveFallback(ex *executor, raw bool) int {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("redicore> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		v, err := ex.run(line)
		if err != nil {
			fmt.Printf("(error) %v\n", err)
			continue
		}
		fmt.Println(formatValue(v, raw))
	}
	return 0
}

// readLineRaw reads one line of keystrokes from a raw-mode terminal,
// supporting backspace and up/down history recall. Escape sequences for
// cursor movement other than up/down are swallowed rather than handled,
// trading full readline parity for a much smaller surface.
func readLineRaw(r *bufio.Reader, history *History) (string, error) {
	var buf strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		switch {
		case b == '\r' || b == '\n':
			return buf.String(), nil
		case b == 3: // Ctrl+C
			return "", io.EOF
		case b == 127 || b == 8: // backspace
			s := buf.String()
			if len(s) > 0 {
				buf.Reset()
				buf.WriteString(s[:len(s)-1])
				fmt.Print("\b \b")
			}
		case b == 27: // ESC [ A/B for up/down
			b2, _ := r.ReadByte()
			b3, _ := r.ReadByte()
			if b2 != '[' {
				continue
			}
			var replacement string
			switch b3 {
			case 'A':
				replacement = history.Previous()
			case 'B':
				replacement = history.Next()
			default:
				continue
			}
			fmt.Print("\r\033[Kredicore> " + replacement)
			buf.Reset()
			buf.WriteString(replacement)
		default:
			buf.WriteByte(b)
			fmt.Print(string(b))
		}
	}
}
