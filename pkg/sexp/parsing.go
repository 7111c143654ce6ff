package sexp

import (
	"fmt"
	"io"
	"os"
	"strconv"

	pc "github.com/prataprc/goparsec"
)

// ----------------------------------------------------------------------------
// Parser Combinator(s)

// This section defines the Parser Combinator for every token & shape of the S-expression syntax.
//
// The grammar is tiny: a program is a sequence of expressions, an expression is either an
// integer atom, a symbol atom or a parenthesised list of further expressions. Line comments
// (from ';' to the end of the line) can appear between any two expressions and are dropped.

// Top level object, will generate the traversable AST based on the input plus the PCs below.
var ast = pc.NewAST("sexp", 0)

var (
	// Parser combinator for an entire source file (a sequence of comments and expressions)
	pProgram = ast.ManyUntil("program", nil, ast.OrdChoice("form", nil, pComment, pc.Parser(pExpression)), pc.End())

	// Parser combinator for comments in the source
	pComment = ast.And("comment", nil, pc.Atom(";", ";"), pc.Token(`(?m).*$`, "COMMENT"))

	// Parser combinator for symbol atoms.
	// NOTE: A symbol covers identifiers, keywords ('set!' included) and the operator
	// spellings (+, -, *, =, <, >, <=, >=) in a single token class.
	// NOTE: Integer atoms are tried first so that '-5' never lexes as a symbol.
	pSymbol = pc.Token(`[a-zA-Z_+*=<>-][a-zA-Z0-9_!?=<>-]*`, "SYMBOL")
)

// Parser combinator for parenthesised lists, assigned in 'init' (and not in the
// var block above) to break the initialization cycle with 'pExpression'.
var pList pc.Parser

func init() {
	pList = ast.And("list", nil,
		pc.Atom("(", "OPEN"),
		ast.Kleene("items", nil, ast.OrdChoice("item", nil, pComment, pc.Parser(pExpression))),
		pc.Atom(")", "CLOSE"),
	)
}

// Parser combinator for a generic expression (either an atom or a list).
// A named function (instead of a var) so the grammar can recurse through it.
func pExpression(s pc.Scanner) (pc.ParsecNode, pc.Scanner) {
	return ast.OrdChoice("expression", nil, pc.Int(), pSymbol, pList)(s)
}

// ----------------------------------------------------------------------------
// Sexp Parser

// This section defines the Parser for parenthesised prefix (S-expression) sources.
//
// It uses parser combinators to obtain the AST from the source code (the latter can be provided)
// in multiple ways using a generic io.Reader, the library reads up the feature flags (as env vars):
// - PARSEC_DEBUG: Verbose logging to inspect which of the PCs gets triggered and match
// - EXPORT_AST:   Exports in the DEBUG_FOLDER a Graphviz representation of the AST
// - PRINT_AST:    Print on the stdout a textual representation of the AST
type Parser struct{ reader io.Reader }

// Initializes and returns to the caller a brand new 'Parser' struct.
// Requires the argument io.Reader 'r' to be valid and usable.
func NewParser(r io.Reader) Parser {
	return Parser{reader: r}
}

// Parser entrypoint divides the 2 phases of the parsing pipeline
// Text --> AST: This step is done using PCs and returns a generic traversable AST
// AST --> IR: This step is done by traversing the AST and extracting the 'sexp.Node's
func (p *Parser) Parse() ([]Node, error) {
	content, err := io.ReadAll(p.reader)
	if err != nil {
		return nil, fmt.Errorf("cannot read from 'io.Reader': %s", err)
	}

	root, success := p.FromSource(content)
	if !success {
		return nil, fmt.Errorf("Invalid S-Expression, failed to parse input content")
	}

	return p.FromAST(root)
}

// Scans the textual input stream coming from the 'reader' method and returns a traversable AST
// (Abstract Syntax Tree) that can be eventually visited to extract/transform the info available.
func (p *Parser) FromSource(source []byte) (pc.Queryable, bool) {

	// Feature flag: Enable 'goparsec' library's debug logs
	if os.Getenv("PARSEC_DEBUG") != "" {
		ast.SetDebug()
	}

	// We generate the traversable Abstract Syntax Tree from the source content
	root, scanner := ast.Parsewith(pProgram, pc.NewScanner(source))

	// Feature flag: Enables export of the AST as Dot file (debug.ast.dot)
	if os.Getenv("EXPORT_AST") != "" {
		file, _ := os.Create(fmt.Sprintf("%s/debug.ast.dot", os.Getenv("DEBUG_FOLDER")))
		defer file.Close()

		file.Write([]byte(ast.Dotstring("\"Sexp AST\"")))
	}

	// Feature flag: Enables pretty printing of the AST on the console
	if os.Getenv("PRINT_AST") != "" {
		ast.Prettyprint()
	}

	// Success is based on the reaching of 'EOF': a partial match (trailing garbage,
	// an unbalanced parenthesis) stops the scan before the end of the input.
	if root == nil {
		return nil, false
	}
	_, scanner = scanner.SkipWS()
	return root, scanner.Endof()
}

// This function takes the root node of the raw parsed AST and does a DFS on it parsing
// one by one each subtree and returning the list of top-level 'sexp.Node's as an in-memory
// and type-safe tree not dependent on the parsing library used.
func (p *Parser) FromAST(root pc.Queryable) ([]Node, error) {
	forms := []Node{}

	if root.GetName() != "program" {
		return nil, fmt.Errorf("expected node 'program', found %s", root.GetName())
	}

	for _, child := range root.GetChildren() {
		if child.GetName() == "comment" { // Comment nodes in the AST are just skipped
			continue
		}

		form, err := p.HandleExpression(child)
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}

	return forms, nil
}

// Specialized function to convert an "expression" subtree (INT, SYMBOL or list) to a 'sexp.Node'.
func (p *Parser) HandleExpression(node pc.Queryable) (Node, error) {
	switch node.GetName() {
	case "INT": // Integer atom, decoded on the spot to a signed 64-bit value
		value, err := strconv.ParseInt(node.GetValue(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("Invalid S-Expression, integer literal '%s' out of range", node.GetValue())
		}
		return Number{Value: value}, nil

	case "SYMBOL": // Symbol atom, kept verbatim
		return Symbol{Name: node.GetValue()}, nil

	case "list": // Parenthesised list, recurse on every non-comment item
		return p.HandleList(node)

	default: // Error case, unrecognized subtree in the AST
		return nil, fmt.Errorf("Invalid S-Expression, unrecognized node '%s'", node.GetName())
	}
}

// Specialized function to convert a "list" node to a 'sexp.List'.
func (p *Parser) HandleList(list pc.Queryable) (Node, error) {
	if list.GetName() != "list" { // Prelude checks: inspects the node to verify it's a 'list'
		return nil, fmt.Errorf("expected node 'list', found %s", list.GetName())
	}

	// A "list" subtree always has 3 children: OPEN, the "items" subtree, CLOSE
	items := list.GetChildren()[1]

	converted := []Node{}
	for _, item := range items.GetChildren() {
		if item.GetName() == "comment" { // Comment nodes in the AST are just skipped
			continue
		}

		node, err := p.HandleExpression(item)
		if err != nil {
			return nil, err
		}
		converted = append(converted, node)
	}

	return List{Items: converted}, nil
}
