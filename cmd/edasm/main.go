// Command edasm is the assembler/linker front end: "asm" turns one
// source file into a REL object, "link" combines REL objects into a
// flat binary (or a re-exported REL), and "run" does both and boots
// the result straight into the emulator.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edasm-host/edasm/assembler"
	"github.com/edasm-host/edasm/emulator"
	"github.com/edasm-host/edasm/linker"
	"github.com/edasm-host/edasm/relfile"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edasm",
		Short: "Assemble and link 6502 source into ProDOS binaries",
	}
	rootCmd.AddCommand(newAsmCmd(), newLinkCmd(), newRunCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// fileIncluder resolves INCLUDE operands relative to the including
// source file's own directory, the convention EDASM programs expect.
type fileIncluder struct {
	dir string
}

func (f fileIncluder) ReadInclude(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func assembleFile(path string) (*assembler.Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	r := assembler.Assemble(string(src), assembler.Options{
		Includer: fileIncluder{dir: filepath.Dir(path)},
	})
	return r, nil
}

func reportDiagnostics(path string, r *assembler.Result) {
	for _, d := range r.Diagnostics {
		fmt.Fprintf(os.Stderr, "%s:%d: %s\n", path, d.Line, d.Message)
	}
}

func newAsmCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "asm SOURCE",
		Short: "Assemble one source file into a REL object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			r, err := assembleFile(path)
			if err != nil {
				return err
			}
			reportDiagnostics(path, r)
			if r.HasErrors() {
				return fmt.Errorf("assembly of %s failed", path)
			}

			data, err := relfile.Encode(relfile.Container{Code: r.Code, RLD: r.RLD, ESD: r.ESD})
			if err != nil {
				return fmt.Errorf("encoding REL object: %w", err)
			}
			if output == "" {
				output = strings.TrimSuffix(path, filepath.Ext(path)) + ".rel"
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output REL object path (default: SOURCE with .rel extension)")
	return cmd
}

func newLinkCmd() *cobra.Command {
	var output, originStr, format string
	var loadMap bool
	cmd := &cobra.Command{
		Use:   "link OBJECT...",
		Short: "Link one or more REL objects into a binary or REL module",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := readAll(args)
			if err != nil {
				return err
			}
			origin, err := parseHexAddr(originStr)
			if err != nil {
				return fmt.Errorf("--origin: %w", err)
			}
			outType, err := parseOutputType(format)
			if err != nil {
				return err
			}

			res := linker.Link(inputs, linker.Options{OutputType: outType, Origin: origin, GenerateMap: loadMap})
			if res.HasErrors() {
				for _, e := range res.Errors {
					fmt.Fprintln(os.Stderr, e)
				}
				return fmt.Errorf("linking failed")
			}
			if loadMap && res.Map != nil {
				printLoadMap(res.Map)
			}
			if output == "" {
				output = "a.out"
			}
			return os.WriteFile(output, res.Output, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "linked output path (default: a.out)")
	cmd.Flags().StringVar(&originStr, "origin", "0800", "hex load address for the first module")
	cmd.Flags().StringVar(&format, "format", "bin", "output format: bin, rel, sys")
	cmd.Flags().BoolVar(&loadMap, "map", false, "print a load map to stdout")
	return cmd
}

func newRunCmd() *cobra.Command {
	var originStr, entryStr string
	var maxInsns uint64
	var trace bool
	cmd := &cobra.Command{
		Use:   "run SOURCE...",
		Short: "Assemble, link, and immediately execute one or more source files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := parseHexAddr(originStr)
			if err != nil {
				return fmt.Errorf("--origin: %w", err)
			}

			var objects [][]byte
			for _, path := range args {
				r, err := assembleFile(path)
				if err != nil {
					return err
				}
				reportDiagnostics(path, r)
				if r.HasErrors() {
					return fmt.Errorf("assembly of %s failed", path)
				}
				data, err := relfile.Encode(relfile.Container{Code: r.Code, RLD: r.RLD, ESD: r.ESD})
				if err != nil {
					return fmt.Errorf("encoding REL object for %s: %w", path, err)
				}
				objects = append(objects, data)
			}

			res := linker.Link(objects, linker.Options{OutputType: linker.BIN, Origin: origin})
			if res.HasErrors() {
				for _, e := range res.Errors {
					fmt.Fprintln(os.Stderr, e)
				}
				return fmt.Errorf("linking failed")
			}

			var entryAddr *uint16
			if entryStr != "" {
				v, err := parseHexAddr(entryStr)
				if err != nil {
					return fmt.Errorf("--entry: %w", err)
				}
				entryAddr = &v
			}

			ctx := emulator.New(emulator.Config{
				Binary:          res.Output,
				LoadAddr:        res.LoadAddress,
				EntryAddr:       entryAddr,
				MaxInstructions: maxInsns,
				Trace:           trace,
				Out:             os.Stdout,
			})
			if !ctx.Run() {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&originStr, "origin", "0800", "hex load address for the first module")
	cmd.Flags().StringVar(&entryStr, "entry", "", "hex entry address (default: honor the reset vector)")
	cmd.Flags().Uint64Var(&maxInsns, "max", 0, "instruction cap (0 = unbounded)")
	cmd.Flags().BoolVar(&trace, "trace", false, "print a per-instruction trace line")
	return cmd
}

func readAll(paths []string) ([][]byte, error) {
	out := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		out = append(out, data)
	}
	return out, nil
}

func parseHexAddr(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "$")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q", s)
	}
	return uint16(v), nil
}

func parseOutputType(s string) (linker.OutputType, error) {
	switch strings.ToLower(s) {
	case "bin":
		return linker.BIN, nil
	case "rel":
		return linker.REL, nil
	case "sys":
		return linker.SYS, nil
	default:
		return 0, fmt.Errorf("unknown --format %q: want bin, rel, or sys", s)
	}
}

func printLoadMap(m *linker.LoadMap) {
	fmt.Println("Modules:")
	for _, mod := range m.Modules {
		fmt.Printf("  [%d] base=$%04X length=%d\n", mod.Index, mod.Base, mod.Length)
	}
	fmt.Println("Symbols:")
	for _, sym := range m.Symbols {
		fmt.Printf("  %-24s $%04X\n", sym.Name, sym.Address)
	}
}
