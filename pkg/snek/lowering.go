package snek

import (
	"fmt"

	"its-hmny.dev/snek/pkg/sexp"
)

// ----------------------------------------------------------------------------
// Snek Lowerer

// The Lowerer takes the generic S-expression forms and produces a typed 'snek.Program'.
//
// Since we get a tree-like struct we are able to traverse it using a Depth First Search (DFS)
// algorithm on it. For each node visited we produce its 'snek.Expr' counterpart as well as
// validating the input before proceeding: shapes and arities of every special form, the
// numeric range of literals, reserved-word misuse and duplicate let bindings are all
// rejected here, before any code generation takes place.
//
// Top-level definitions are handled with two passes: the first one only collects every
// function name and its arity (so that forward calls between functions resolve), the second
// one fully builds each definition and the main expression.
type Lowerer struct {
	forms []sexp.Node    // The top-level forms, in source order
	funcs map[string]int // Function name -> arity, filled by the first pass
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument forms to be the full list of top-level S-expressions.
func NewLowerer(forms []sexp.Node) Lowerer {
	return Lowerer{forms: forms, funcs: map[string]int{}}
}

// Triggers the lowering process. The first pass collects the function signatures, the
// second pass converts every definition and the main expression (much like a recursive
// descend parser but for lowering), this means each tree is visited in DFS order.
func (l *Lowerer) Lower() (Program, error) {
	if len(l.forms) == 0 {
		return Program{}, fmt.Errorf("Invalid program, the input is empty")
	}

	// First pass: collect every 'fun' signature so that calls can be checked
	// against the declared arity regardless of declaration order.
	for _, form := range l.forms {
		if !isDefinition(form) {
			continue
		}

		name, arity, err := l.HandleSignature(form)
		if err != nil {
			return Program{}, err
		}
		if _, found := l.funcs[name]; found {
			return Program{}, fmt.Errorf("Invalid definition, function '%s' is declared multiple times", name)
		}
		l.funcs[name] = arity
	}

	// Second pass: build each definition in full, then the single main expression.
	// Exactly one top-level form must NOT be a definition and it must be the last one.
	program := Program{Funcs: l.funcs}
	for idx, form := range l.forms {
		if isDefinition(form) {
			def, err := l.HandleDefinition(form)
			if err != nil {
				return Program{}, err
			}
			program.Defs = append(program.Defs, def)
			continue
		}

		if idx != len(l.forms)-1 {
			return Program{}, fmt.Errorf("Invalid program, unexpected form after the main expression")
		}

		main, err := l.HandleExpression(form)
		if err != nil {
			return Program{}, err
		}
		program.Main = main
	}

	if program.Main == nil {
		return Program{}, fmt.Errorf("Invalid program, only found definitions")
	}

	return program, nil
}

// A top-level form is a definition when it is a list whose head is the 'fun' keyword.
func isDefinition(form sexp.Node) bool {
	list, isList := form.(sexp.List)
	if !isList || len(list.Items) == 0 {
		return false
	}

	head, isSymbol := list.Items[0].(sexp.Symbol)
	return isSymbol && head.Name == "fun"
}

// Specialized function to extract just (name, arity) from a 'fun' form, first-pass only.
func (l *Lowerer) HandleSignature(form sexp.Node) (string, int, error) {
	list := form.(sexp.List)
	if len(list.Items) != 3 {
		return "", 0, fmt.Errorf("Invalid definition, expected (fun (name params...) body)")
	}

	header, isList := list.Items[1].(sexp.List)
	if !isList || len(header.Items) == 0 {
		return "", 0, fmt.Errorf("Invalid definition, expected (fun (name params...) body)")
	}

	name, isSymbol := header.Items[0].(sexp.Symbol)
	if !isSymbol {
		return "", 0, fmt.Errorf("Invalid definition, the function name must be a symbol")
	}
	if ReservedWords[name.Name] {
		return "", 0, fmt.Errorf("Invalid definition, reserved keyword '%s' can't name a function", name.Name)
	}

	return name.Name, len(header.Items) - 1, nil
}

// Specialized function to convert a 'fun' form to a 'snek.Definition', second-pass only.
// The header shape has already been vetted by 'HandleSignature' during the first pass.
func (l *Lowerer) HandleDefinition(form sexp.Node) (Definition, error) {
	list := form.(sexp.List)
	header := list.Items[1].(sexp.List)
	name := header.Items[0].(sexp.Symbol)

	params, seen := []string{}, map[string]bool{}
	for _, item := range header.Items[1:] {
		param, isSymbol := item.(sexp.Symbol)
		if !isSymbol {
			return Definition{}, fmt.Errorf("Invalid definition, parameters of '%s' must be symbols", name.Name)
		}
		if ReservedWords[param.Name] {
			return Definition{}, fmt.Errorf("Invalid definition, reserved keyword '%s' can't name a parameter", param.Name)
		}
		if seen[param.Name] {
			return Definition{}, fmt.Errorf("Invalid definition, parameter '%s' of '%s' is declared twice", param.Name, name.Name)
		}

		seen[param.Name] = true
		params = append(params, param.Name)
	}

	body, err := l.HandleExpression(list.Items[2])
	if err != nil {
		return Definition{}, err
	}

	return Definition{Name: name.Name, Params: params, Body: body}, nil
}

// Specialized function to convert a generic S-expression to a 'snek.Expr'.
//
// The dispatch order follows the validation contract: atoms first, then lists headed
// by a recognised keyword, then lists headed by any other symbol (function calls);
// anything else is a malformed S-expression.
func (l *Lowerer) HandleExpression(node sexp.Node) (Expr, error) {
	switch typed := node.(type) {
	case sexp.Number:
		if typed.Value < LeastVal || typed.Value > GreatestVal {
			return nil, fmt.Errorf("Invalid number literal %d, out of the representable range", typed.Value)
		}
		return Number{Value: typed.Value}, nil

	case sexp.Symbol:
		switch {
		case typed.Name == "true":
			return Boolean{Value: true}, nil
		case typed.Name == "false":
			return Boolean{Value: false}, nil
		case typed.Name == "input": // Kept as an Id, resolved (or rejected) by the compiler
			return Id{Name: typed.Name}, nil
		case ReservedWords[typed.Name]:
			return nil, fmt.Errorf("Invalid use of keyword '%s' as an expression", typed.Name)
		default:
			return Id{Name: typed.Name}, nil
		}

	case sexp.List:
		return l.HandleList(typed)

	default: // Error case, unrecognized node type
		return nil, fmt.Errorf("Invalid S-Expression, unrecognized node '%T'", node)
	}
}

// Specialized function to convert a list form (special form or call) to a 'snek.Expr'.
func (l *Lowerer) HandleList(list sexp.List) (Expr, error) {
	if len(list.Items) == 0 {
		return nil, fmt.Errorf("Invalid S-Expression, the empty list is not an expression")
	}

	head, isSymbol := list.Items[0].(sexp.Symbol)
	if !isSymbol {
		return nil, fmt.Errorf("Invalid S-Expression, a list must start with a symbol")
	}
	args := list.Items[1:]

	switch head.Name {
	case "add1", "sub1", "isnum", "isbool", "print":
		if len(args) != 1 {
			return nil, fmt.Errorf("Invalid S-Expression, '%s' takes exactly one argument", head.Name)
		}
		operand, err := l.HandleExpression(args[0])
		if err != nil {
			return nil, err
		}
		return UnOp{Op: Op1(head.Name), Operand: operand}, nil

	case "+", "-", "*", "=", ">", "<", ">=", "<=":
		if len(args) != 2 {
			return nil, fmt.Errorf("Invalid S-Expression, '%s' takes exactly two arguments", head.Name)
		}
		left, err := l.HandleExpression(args[0])
		if err != nil {
			return nil, err
		}
		right, err := l.HandleExpression(args[1])
		if err != nil {
			return nil, err
		}
		return BinOp{Op: Op2(head.Name), Left: left, Right: right}, nil

	case "if":
		if len(args) != 3 {
			return nil, fmt.Errorf("Invalid S-Expression, 'if' takes a condition and two branches")
		}
		cond, err := l.HandleExpression(args[0])
		if err != nil {
			return nil, err
		}
		then, err := l.HandleExpression(args[1])
		if err != nil {
			return nil, err
		}
		els, err := l.HandleExpression(args[2])
		if err != nil {
			return nil, err
		}
		return If{Cond: cond, Then: then, Else: els}, nil

	case "loop":
		if len(args) != 1 {
			return nil, fmt.Errorf("Invalid S-Expression, 'loop' takes exactly one body expression")
		}
		body, err := l.HandleExpression(args[0])
		if err != nil {
			return nil, err
		}
		return Loop{Body: body}, nil

	case "break":
		if len(args) != 1 {
			return nil, fmt.Errorf("Invalid S-Expression, 'break' takes exactly one expression")
		}
		value, err := l.HandleExpression(args[0])
		if err != nil {
			return nil, err
		}
		return Break{Value: value}, nil

	case "block":
		if len(args) == 0 {
			return nil, fmt.Errorf("Invalid S-Expression, 'block' needs at least one expression")
		}
		exprs := []Expr{}
		for _, item := range args {
			expr, err := l.HandleExpression(item)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, expr)
		}
		return Block{Exprs: exprs}, nil

	case "set!":
		if len(args) != 2 {
			return nil, fmt.Errorf("Invalid S-Expression, 'set!' takes a name and an expression")
		}
		name, isSymbol := args[0].(sexp.Symbol)
		if !isSymbol {
			return nil, fmt.Errorf("Invalid S-Expression, the target of 'set!' must be a symbol")
		}
		if ReservedWords[name.Name] {
			return nil, fmt.Errorf("Invalid use of keyword '%s' as a 'set!' target", name.Name)
		}
		value, err := l.HandleExpression(args[1])
		if err != nil {
			return nil, err
		}
		return Set{Name: name.Name, Value: value}, nil

	case "let":
		if len(args) != 2 {
			return nil, fmt.Errorf("Invalid S-Expression, 'let' takes a binding list and a body")
		}
		return l.HandleLet(args[0], args[1])

	case "fun":
		return nil, fmt.Errorf("Invalid S-Expression, 'fun' is only allowed at the top level")

	default: // Not a keyword: a call to a user-defined function
		arity, found := l.funcs[head.Name]
		if !found {
			return nil, fmt.Errorf("Invalid function call, '%s' has no definition", head.Name)
		}
		if len(args) != arity {
			return nil, fmt.Errorf("Invalid function call, '%s' takes %d argument(s), got %d", head.Name, arity, len(args))
		}

		call := Call{Name: head.Name}
		for _, item := range args {
			arg, err := l.HandleExpression(item)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
		return call, nil
	}
}

// Specialized function to convert the two halves of a 'let' form to a 'snek.Let'.
//
// Duplicate-binding detection uses a set of the names seen so far in THIS binding
// list only: shadowing a name bound by an outer 'let' stays legal.
func (l *Lowerer) HandleLet(bindings sexp.Node, body sexp.Node) (Expr, error) {
	list, isList := bindings.(sexp.List)
	if !isList || len(list.Items) == 0 {
		return nil, fmt.Errorf("Invalid S-Expression, 'let' needs a non-empty binding list")
	}

	converted, seen := []Binding{}, map[string]bool{}
	for _, item := range list.Items {
		pair, isPair := item.(sexp.List)
		if !isPair || len(pair.Items) != 2 {
			return nil, fmt.Errorf("Invalid S-Expression, a 'let' binding must be a (name expr) pair")
		}

		name, isSymbol := pair.Items[0].(sexp.Symbol)
		if !isSymbol {
			return nil, fmt.Errorf("Invalid S-Expression, a 'let' binding must name a symbol")
		}
		if ReservedWords[name.Name] {
			return nil, fmt.Errorf("Invalid binding, reserved keyword '%s' used as a name", name.Name)
		}
		if seen[name.Name] {
			return nil, fmt.Errorf("Duplicate binding for '%s' in the same 'let'", name.Name)
		}

		value, err := l.HandleExpression(pair.Items[1])
		if err != nil {
			return nil, err
		}

		seen[name.Name] = true
		converted = append(converted, Binding{Name: name.Name, Value: value})
	}

	lowered, err := l.HandleExpression(body)
	if err != nil {
		return nil, err
	}

	return Let{Bindings: converted, Body: lowered}, nil
}
