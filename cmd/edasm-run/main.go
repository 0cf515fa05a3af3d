// Command edasm-run boots a ProDOS binary straight into the emulator:
// load it at an address, honor the reset vector (or an override), and
// step the CPU until a trap halts it or the instruction cap fires.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/edasm-host/edasm/emulator"
)

func main() {
	var (
		binaryPath string
		loadStr    string
		entryStr   string
		maxInsns   uint64
		inputFile  string
		trace      bool
	)

	rootCmd := &cobra.Command{
		Use:   "edasm-run",
		Short: "Run a 6502 ProDOS binary under the emulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if binaryPath == "" {
				return fmt.Errorf("--binary is required")
			}
			binary, err := os.ReadFile(binaryPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", binaryPath, err)
			}
			loadAddr, err := parseHexAddr(loadStr)
			if err != nil {
				return fmt.Errorf("--load: %w", err)
			}

			var entryAddr *uint16
			if entryStr != "" {
				v, err := parseHexAddr(entryStr)
				if err != nil {
					return fmt.Errorf("--entry: %w", err)
				}
				entryAddr = &v
			}

			cfg := emulator.Config{
				Binary:          binary,
				LoadAddr:        loadAddr,
				EntryAddr:       entryAddr,
				MaxInstructions: maxInsns,
				Trace:           trace,
				Out:             os.Stdout,
			}

			var restoreTerm func()
			if inputFile != "" {
				lines, err := readInputLines(inputFile)
				if err != nil {
					return fmt.Errorf("--input-file: %w", err)
				}
				cfg.InputLines = lines
			} else {
				liveInput, restore := startInteractiveInput()
				cfg.LiveInput = liveInput
				restoreTerm = restore
			}
			if restoreTerm != nil {
				defer restoreTerm()
			}

			ctx := emulator.New(cfg)
			cleanHalt := ctx.Run()
			if !cleanHalt {
				if restoreTerm != nil {
					restoreTerm()
				}
				os.Exit(1)
			}
			return nil
		},
	}

	rootCmd.Flags().StringVar(&binaryPath, "binary", "", "path to the raw binary image to load")
	rootCmd.Flags().StringVar(&loadStr, "load", "0800", "hex address to load the binary at")
	rootCmd.Flags().StringVar(&entryStr, "entry", "", "hex entry address (default: honor the reset vector)")
	rootCmd.Flags().Uint64Var(&maxInsns, "max", 0, "instruction cap (0 = unbounded)")
	rootCmd.Flags().StringVar(&inputFile, "input-file", "", "file of newline-separated keyboard input lines")
	rootCmd.Flags().BoolVar(&trace, "trace", false, "print a per-instruction trace line")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseHexAddr(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "$")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q", s)
	}
	return uint16(v), nil
}

func readInputLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// startInteractiveInput puts stdin in raw mode, when it's a terminal,
// so the host tty doesn't echo keystrokes on top of the guest's own
// text-screen rendering, and feeds completed lines to the returned
// channel as they're typed. If stdin isn't a terminal (a pipe, a
// redirected file, a test harness) it falls back to reading it as a
// plain batch of lines, same as --input-file.
func startInteractiveInput() (<-chan string, func()) {
	ch := make(chan string, 64)
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		go func() {
			defer close(ch)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				ch <- scanner.Text()
			}
		}()
		return ch, nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		go close(ch)
		return ch, nil
	}

	go func() {
		defer close(ch)
		reader := bufio.NewReader(os.Stdin)
		var line strings.Builder
		for {
			b, err := reader.ReadByte()
			if err != nil {
				return
			}
			switch b {
			case '\r', '\n':
				ch <- line.String()
				line.Reset()
			case 0x03: // Ctrl-C
				return
			case 0x7f, 0x08: // backspace/delete
				s := line.String()
				if len(s) > 0 {
					line.Reset()
					line.WriteString(s[:len(s)-1])
				}
			default:
				line.WriteByte(b)
			}
		}
	}()

	return ch, func() { term.Restore(fd, oldState) }
}
