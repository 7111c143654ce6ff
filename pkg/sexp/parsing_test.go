package sexp_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"its-hmny.dev/snek/pkg/sexp"
)

func parse(t *testing.T, source string) []sexp.Node {
	parser := sexp.NewParser(strings.NewReader(source))
	forms, err := parser.Parse()
	require.NoError(t, err)
	return forms
}

func TestAtoms(t *testing.T) {
	t.Run("Integer atoms", func(t *testing.T) {
		forms := parse(t, "42")
		require.Len(t, forms, 1)
		require.Equal(t, sexp.Number{Value: 42}, forms[0])

		forms = parse(t, "-7")
		require.Equal(t, sexp.Number{Value: -7}, forms[0])

		forms = parse(t, "4611686018427387903")
		require.Equal(t, sexp.Number{Value: 4611686018427387903}, forms[0])
	})

	t.Run("Symbol atoms", func(t *testing.T) {
		// Identifiers and keywords arrive undistinguished...
		for _, name := range []string{"x", "acc", "input", "let", "add1", "isnum", "even_odd"} {
			forms := parse(t, name)
			require.Equal(t, sexp.Symbol{Name: name}, forms[0])
		}
		// ... and so do the operator spellings, 'set!' included.
		for _, name := range []string{"+", "-", "*", "=", "<", ">", "<=", ">=", "set!"} {
			forms := parse(t, name)
			require.Equal(t, sexp.Symbol{Name: name}, forms[0])
		}
	})

	t.Run("Out of range integers", func(t *testing.T) {
		parser := sexp.NewParser(strings.NewReader("92233720368547758080000"))
		_, err := parser.Parse()
		require.Error(t, err)
		require.Contains(t, err.Error(), "Invalid")
	})
}

func TestLists(t *testing.T) {
	t.Run("Flat lists", func(t *testing.T) {
		forms := parse(t, "(add1 73)")
		require.Len(t, forms, 1)
		require.Equal(t, sexp.List{Items: []sexp.Node{
			sexp.Symbol{Name: "add1"},
			sexp.Number{Value: 73},
		}}, forms[0])
	})

	t.Run("Nested lists", func(t *testing.T) {
		forms := parse(t, "(let ((x 5)) (+ x 10))")
		require.Equal(t, sexp.List{Items: []sexp.Node{
			sexp.Symbol{Name: "let"},
			sexp.List{Items: []sexp.Node{
				sexp.List{Items: []sexp.Node{sexp.Symbol{Name: "x"}, sexp.Number{Value: 5}}},
			}},
			sexp.List{Items: []sexp.Node{
				sexp.Symbol{Name: "+"},
				sexp.Symbol{Name: "x"},
				sexp.Number{Value: 10},
			}},
		}}, forms[0])
	})

	t.Run("Empty list", func(t *testing.T) {
		forms := parse(t, "()")
		require.Equal(t, sexp.List{Items: []sexp.Node{}}, forms[0])
	})

	t.Run("Multiple top-level forms", func(t *testing.T) {
		forms := parse(t, "(fun (id x) x) (id input)")
		require.Len(t, forms, 2)
	})

	t.Run("Comments are skipped", func(t *testing.T) {
		forms := parse(t, "; a factorial-ish thing\n(* 2 ; inline note\n 3)")
		require.Len(t, forms, 1)
		require.Equal(t, sexp.List{Items: []sexp.Node{
			sexp.Symbol{Name: "*"},
			sexp.Number{Value: 2},
			sexp.Number{Value: 3},
		}}, forms[0])
	})
}

func TestMalformedInputs(t *testing.T) {
	test := func(source string) {
		parser := sexp.NewParser(strings.NewReader(source))
		_, err := parser.Parse()
		require.Error(t, err)
		require.Contains(t, err.Error(), "Invalid S-Expression")
	}

	t.Run("Unbalanced parentheses", func(t *testing.T) {
		test("(add1 5")
		test("add1 5)")
		test("((let ((x 5)) x)")
	})

	t.Run("Stray tokens", func(t *testing.T) {
		test("#")
		test("(+ 1 2) @")
	})
}
