package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/teris-io/cli"

	"its-hmny.dev/snek/pkg/sexp"
	"its-hmny.dev/snek/pkg/snek"
	"its-hmny.dev/snek/pkg/x86"
)

var Description = strings.ReplaceAll(`
The Snek Compiler takes a program written in the snek language (a small dynamically-typed
expression language in parenthesised prefix syntax) and translates it ahead-of-time into
x86-64 assembly text. The produced listing, once assembled and linked against the snek
runtime (which provides snek_print and snek_error), runs the program and leaves the value
of its main expression in RAX.
`, "\n", " ")

var SnekCompiler = cli.New(Description).
	WithArg(cli.NewArg("input", "The snek (.snek) source file to be compiled")).
	WithArg(cli.NewArg("output", "The compiled assembly output (.s)")).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	input, err := os.ReadFile(args[0])
	if err != nil {
		color.Red("ERROR: Unable to open input file: %s\n", err)
		return -1
	}

	output, err := os.Create(args[1])
	if err != nil {
		color.Red("ERROR: Unable to open output file: %s\n", err)
		return -1
	}
	defer output.Close()

	// Instantiate a parser for the S-expression surface syntax
	parser := sexp.NewParser(bytes.NewReader(input))
	// Parses the input file content and extracts the top-level forms from it.
	forms, err := parser.Parse()
	if err != nil {
		color.Red("ERROR: Unable to complete 'parsing' pass: %s\n", err)
		return -1
	}

	// Instantiate a lowerer to convert the generic forms into a snek program
	lowerer := snek.NewLowerer(forms)
	// Lowers the forms to a validated, type-safe 'snek.Program' (defs + main expression).
	program, err := lowerer.Lower()
	if err != nil {
		color.Red("ERROR: Unable to complete 'lowering' pass: %s\n", err)
		return -1
	}

	// Now, instantiate the compiler from snek down to abstract x86-64 instructions
	compiler := snek.NewCompiler(program)
	// Walks definitions and main expression and emits the whole abstract listing.
	compiled, err := compiler.Compile()
	if err != nil {
		color.Red("ERROR: Unable to complete 'codegen' pass: %s\n", err)
		return -1
	}

	// Finally, instantiates a code generator to print the abstract instructions
	codegen := x86.NewCodeGenerator(compiled)
	// Iterates over each instruction and spits out the relative textual representation.
	lines, err := codegen.Generate()
	if err != nil {
		color.Red("ERROR: Unable to complete 'emission' pass: %s\n", err)
		return -1
	}

	for _, line := range lines {
		output.Write([]byte(fmt.Sprintf("%s\n", line)))
	}

	return 0
}

func main() { os.Exit(SnekCompiler.Run(os.Args, os.Stdout)) }
