package snek

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the snek source language.
//
// We declare a shared 'Expr' interface for every expression form of the language plus the
// top-level 'Definition' and 'Program' records produced by the front end. The language is
// dynamically typed: at runtime every value is a single 64-bit word whose least significant
// bit is the type tag (0 = number stored shifted left by one, 1 = boolean). The constants
// below are the persisted contract with the runtime library and never change.

// Just used to put together every expression form in the same datatype, use type switch to disambiguate.
type Expr interface{}

const (
	TrueVal  = 3 // Tagged encoding of 'true'  (0b11)
	FalseVal = 1 // Tagged encoding of 'false' (0b01)

	OverflowErrorCode        = 5 // Runtime error code for arithmetic overflow
	InvalidArgumentErrorCode = 7 // Runtime error code for a type-tag violation

	GreatestVal = int64(4611686018427387903)  // Largest source integer whose shifted encoding fits an i64
	LeastVal    = int64(-4611686018427387904) // Smallest source integer whose shifted encoding fits an i64
)

// ReservedWords collects every spelling that can never be used as an identifier,
// parameter name or function name.
var ReservedWords = map[string]bool{
	"let": true, "block": true, "set!": true, "loop": true, "break": true,
	"if": true, "input": true, "+": true, "-": true, "*": true, "=": true,
	"true": true, "false": true, ">": true, "<": true, ">=": true, "<=": true,
	"fun": true, "print": true, "sub1": true, "add1": true, "isnum": true, "isbool": true,
}

// ----------------------------------------------------------------------------
// Atoms

// In memory representation of an integer literal.
//
// The value is stored untagged; the compiler installs the tag by shifting left once.
// The front end guarantees the value lies in [LeastVal, GreatestVal] so that the
// shift can never overflow.
type Number struct {
	Value int64
}

// In memory representation of a boolean literal ('true' or 'false' in the source).
type Boolean struct {
	Value bool
}

// In memory representation of an identifier occurrence.
//
// The special identifier 'input' is kept as a plain Id by the front end and given
// its meaning (the RDI register) by the compiler, which also rejects it inside
// function bodies.
type Id struct {
	Name string
}

// ----------------------------------------------------------------------------
// Binding forms

// A single '(name expr)' pair inside a 'let' binding list.
type Binding struct {
	Name  string
	Value Expr
}

// In memory representation of a 'let' expression.
//
// Bindings are evaluated left to right, each one visible to the ones after it,
// and all of them visible to the body. Re-binding a name bound by an outer scope
// (shadowing) is legal; binding the same name twice in the same list is not.
type Let struct {
	Bindings []Binding
	Body     Expr
}

// In memory representation of a 'set!' expression. The target name must already
// be bound by an enclosing 'let'; the result value is the stored value.
type Set struct {
	Name  string
	Value Expr
}

// ----------------------------------------------------------------------------
// Operator forms

type Op1 string // Enum for the unary operators

const (
	Add1   Op1 = "add1"
	Sub1   Op1 = "sub1"
	IsNum  Op1 = "isnum"
	IsBool Op1 = "isbool"
	Print  Op1 = "print"
)

type Op2 string // Enum for the binary operators

const (
	Plus         Op2 = "+"
	Minus        Op2 = "-"
	Times        Op2 = "*"
	Equal        Op2 = "="
	Greater      Op2 = ">"
	GreaterEqual Op2 = ">="
	Less         Op2 = "<"
	LessEqual    Op2 = "<="
)

// In memory representation of a unary operator application.
type UnOp struct {
	Op      Op1
	Operand Expr
}

// In memory representation of a binary operator application.
type BinOp struct {
	Op    Op2
	Left  Expr
	Right Expr
}

// ----------------------------------------------------------------------------
// Control flow forms

// In memory representation of an 'if' expression. Any non-false value of the
// condition (numbers included) selects the 'Then' branch.
type If struct {
	Cond Expr
	Then Expr
	Else Expr
}

// In memory representation of a 'loop' expression. The loop body repeats forever;
// the only way out is a lexically enclosed 'break', whose value becomes the value
// of the whole loop.
type Loop struct {
	Body Expr
}

// In memory representation of a 'break' expression.
type Break struct {
	Value Expr
}

// In memory representation of a 'block' expression: a non-empty sequence evaluated
// in order, whose value is the value of the last expression.
type Block struct {
	Exprs []Expr
}

// ----------------------------------------------------------------------------
// Functions

// In memory representation of a call to a user-defined function. The front end
// has already checked that 'Name' is declared and that the argument count matches
// the declared arity.
type Call struct {
	Name string
	Args []Expr
}

// In memory representation of a top-level '(fun (name params...) body)' definition.
type Definition struct {
	Name   string
	Params []string
	Body   Expr
}

// A full program: the ordered definitions, the single main expression and the
// name -> arity table collected by the front end's first pass.
type Program struct {
	Defs  []Definition
	Main  Expr
	Funcs map[string]int
}
