package sexp

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the S-expression layer.
//
// We declare a shared 'Node' interface for the three shapes a parenthesised prefix
// program can contain: integer atoms, symbol atoms and lists of further nodes.
// The reader is deliberately generic: it knows nothing about the snek language,
// it only hands back a traversable tree that the 'snek' package validates and
// converts into its own typed AST during the lowering phase.

// Just used to put together atoms and lists in the same datatype, use type switch to disambiguate.
type Node interface{}

// ----------------------------------------------------------------------------
// Number atoms

// In memory representation of an integer atom.
//
// The literal is already decoded to a signed 64-bit value here; whether the value
// also fits the language's own numeric range (it must survive a left shift by one)
// is not this package's business and is checked by the snek front end.
type Number struct {
	Value int64 // The decoded literal value
}

// ----------------------------------------------------------------------------
// Symbol atoms

// In memory representation of a symbol atom.
//
// A symbol is any bare word in the source: keywords ('let', 'block', ...),
// operators ('+', '>=', ...), identifiers and function names all arrive here
// undistinguished. Classifying them is again the snek front end's job.
type Symbol struct {
	Name string // The symbol spelling, verbatim from the source
}

// ----------------------------------------------------------------------------
// Lists

// In memory representation of a parenthesised list of nodes.
//
// Lists carry all the structure of the language: special forms, operator
// applications, function calls and definitions are all lists whose head
// symbol decides their meaning one level up.
type List struct {
	Items []Node // The nodes between the parentheses, in source order
}
