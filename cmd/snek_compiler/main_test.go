package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnekCompiler(t *testing.T) {
	compile := func(t *testing.T, source string) (int, string) {
		dir := t.TempDir()
		input := filepath.Join(dir, "main.snek")
		output := filepath.Join(dir, "main.s")

		require.NoError(t, os.WriteFile(input, []byte(source), 0o644))
		status := Handler([]string{input, output}, nil)

		content, _ := os.ReadFile(output)
		return status, string(content)
	}

	t.Run("Straight-line program", func(t *testing.T) {
		status, listing := compile(t, "(let ((x 5)) (+ x 10))")
		require.Equal(t, 0, status)

		// The whole skeleton must be in place for nasm + the runtime to take over
		require.Contains(t, listing, "section .text\n")
		require.Contains(t, listing, "extern snek_error\n")
		require.Contains(t, listing, "extern snek_print\n")
		require.Contains(t, listing, "global our_code_starts_here\n")
		require.Contains(t, listing, "our_code_starts_here:\n")
		require.Contains(t, listing, "throw_error:\n")
		require.Contains(t, listing, "overflow:\n  mov rdi, 5\n  jmp throw_error\n")
		require.Contains(t, listing, "invalid_arg:\n  mov rdi, 7\n  jmp throw_error\n")
		require.True(t, strings.HasSuffix(listing, "\n"))
	})

	t.Run("Factorial program", func(t *testing.T) {
		status, listing := compile(t, `
			; iterative factorial over the program input
			(let ((n input)) (let ((acc 1)) (block (loop
				(if (= n 0) (break acc)
					(block (set! acc (* acc n)) (set! n (sub1 n))))))))
		`)
		require.Equal(t, 0, status)
		require.Contains(t, listing, "loop_0:")
		require.Contains(t, listing, "  jmp loop_0")
		require.Contains(t, listing, "  imul rax,")
	})

	t.Run("Mutually recursive functions", func(t *testing.T) {
		status, listing := compile(t, `
			(fun (even n) (if (= n 0) true (odd (sub1 n))))
			(fun (odd n) (if (= n 0) false (even (sub1 n))))
			(even input)
		`)
		require.Equal(t, 0, status)
		require.Contains(t, listing, "even:")
		require.Contains(t, listing, "odd:")
		require.Contains(t, listing, "  call even")
	})

	t.Run("Compile errors exit non-zero", func(t *testing.T) {
		for _, source := range []string{
			"(let ((x 1) (x 2)) x)",      // Duplicate binding
			"(break 1)",                  // break outside any loop
			"(let ((x 1)) y)",            // unbound identifier
			"(fun (f x) input) (f 1)",    // input inside a function body
			"(g 1)",                      // call without definition
			"(+ 4611686018427387904 1)",  // literal out of range
			"(let ((x 5)) (+ x 10)",      // unbalanced parenthesis
			"(fun (f x) x)",              // no main expression
		} {
			status, _ := compile(t, source)
			require.Equal(t, -1, status, "source %q should not compile", source)
		}
	})

	t.Run("Missing input file", func(t *testing.T) {
		dir := t.TempDir()
		status := Handler([]string{filepath.Join(dir, "nope.snek"), filepath.Join(dir, "out.s")}, nil)
		require.Equal(t, -1, status)
	})
}
