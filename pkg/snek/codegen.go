package snek

import (
	"fmt"

	"its-hmny.dev/snek/pkg/utils"
	"its-hmny.dev/snek/pkg/x86"
)

// ----------------------------------------------------------------------------
// Snek Compiler

// The Compiler takes a validated 'snek.Program' and produces its 'x86.Program' counterpart.
//
// Every expression is compiled so that its tagged value ends up in RAX and RSP is restored
// to its entry value: intermediate results never push or pop, they live in explicit stack
// slots addressed as [rsp - si*8] where 'si' is the next free 8-byte slot (counted in
// words). The environment maps each bound identifier to its byte offset, and is cloned at
// every 'let' so that leaving a scope never disturbs the outer one.
//
// The label counter lives on the compiler itself so that every 'if', 'loop' and type-check
// site in the whole program (definitions and main alike) gets a globally unique label.
// Enclosing loops are tracked with a stack of end labels: 'break' jumps to the top one.
type Compiler struct {
	program Program

	labels     int                 // Monotonic counter backing label generation
	breaks     utils.Stack[string] // End labels of the enclosing loops, innermost on top
	inFunction bool                // Set while compiling a definition body, where 'input' is illegal
}

// Initializes and returns to the caller a brand new 'Compiler' struct.
// Requires the argument Program 'p' to have passed the lowering phase.
func NewCompiler(p Program) Compiler {
	return Compiler{program: p, breaks: utils.NewStack[string]()}
}

// Triggers the compilation and emits the complete listing: the section header and extern
// directives, the shared error landing pad, every function definition, the program entry
// point wrapping the main expression and finally the two error trampolines.
func (c *Compiler) Compile() (x86.Program, error) {
	compiled := x86.Program{
		x86.Section{Name: ".text"},
		x86.Extern{Symbol: "snek_error"},
		x86.Extern{Symbol: "snek_print"},
		x86.Global{Symbol: "our_code_starts_here"},

		// Shared landing pad: the error code is already in RDI, the pushed RSP
		// gives the runtime an approximate stack pointer. snek_error never returns.
		x86.LabelDecl{Name: "throw_error"},
		x86.Push{Src: x86.RSP},
		x86.Call{Target: "snek_error"},
	}

	declared := map[string]bool{}
	for _, def := range c.program.Defs {
		if declared[def.Name] {
			return nil, fmt.Errorf("Invalid definition, function '%s' is declared multiple times", def.Name)
		}
		declared[def.Name] = true

		instructions, err := c.CompileDefinition(def)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, instructions...)
	}

	main, err := c.CompileExpression(c.program.Main, 2, map[string]int64{})
	if err != nil {
		return nil, err
	}

	compiled = append(compiled, x86.LabelDecl{Name: "our_code_starts_here"})
	compiled = append(compiled, main...)
	compiled = append(compiled,
		x86.Ret{},

		x86.LabelDecl{Name: "overflow"},
		x86.Mov{Dst: x86.RDI, Src: x86.Imm(OverflowErrorCode)},
		x86.Jmp{Target: "throw_error"},

		x86.LabelDecl{Name: "invalid_arg"},
		x86.Mov{Dst: x86.RDI, Src: x86.Imm(InvalidArgumentErrorCode)},
		x86.Jmp{Target: "throw_error"},
	)

	return compiled, nil
}

// Specialized function to compile one function definition.
//
// The body starts right after a label carrying the function name and is compiled at
// si = 2 (slots 0 and 1 stay clear of the callee-saved RDI and the alignment word of
// any nested call) with each parameter mapped to its negative offset: the caller left
// argument i at [rsp + 8*(i+1)] once the pushed return address is accounted for.
func (c *Compiler) CompileDefinition(def Definition) ([]x86.Instruction, error) {
	env := map[string]int64{}
	for idx, param := range def.Params {
		env[param] = int64(-8 * (idx + 1))
	}

	c.inFunction = true
	body, err := c.CompileExpression(def.Body, 2, env)
	c.inFunction = false
	if err != nil {
		return nil, err
	}

	instructions := []x86.Instruction{x86.LabelDecl{Name: def.Name}}
	instructions = append(instructions, body...)
	instructions = append(instructions, x86.Ret{})
	return instructions, nil
}

// The core recursive translator from one expression to a linear instruction list.
//
// 'si' is the next free stack slot in words; 'env' maps identifiers to byte offsets
// below RSP (negative for function parameters, which live above it). The generated
// code leaves the expression's tagged value in RAX and RSP untouched.
func (c *Compiler) CompileExpression(expr Expr, si int64, env map[string]int64) ([]x86.Instruction, error) {
	switch typed := expr.(type) {
	case Number:
		return c.CompileNumber(typed)
	case Boolean:
		return c.CompileBoolean(typed)
	case Id:
		return c.CompileId(typed, env)
	case Let:
		return c.CompileLet(typed, si, env)
	case Block:
		return c.CompileBlock(typed, si, env)
	case Set:
		return c.CompileSet(typed, si, env)
	case If:
		return c.CompileIf(typed, si, env)
	case Loop:
		return c.CompileLoop(typed, si, env)
	case Break:
		return c.CompileBreak(typed, si, env)
	case UnOp:
		return c.CompileUnOp(typed, si, env)
	case BinOp:
		return c.CompileBinOp(typed, si, env)
	case Call:
		return c.CompileCall(typed, si, env)
	default: // Error case, unrecognized expression type
		return nil, fmt.Errorf("unrecognized expression '%T'", expr)
	}
}

// A number literal: load the raw value, then shift once to install the tag (LSB = 0).
// The range was validated during lowering so the shift cannot overflow.
func (c *Compiler) CompileNumber(number Number) ([]x86.Instruction, error) {
	return []x86.Instruction{
		x86.Mov{Dst: x86.RAX, Src: x86.Imm(number.Value)},
		x86.Shl{Dst: x86.RAX, Src: x86.Imm(1)},
	}, nil
}

// A boolean literal is just its tagged constant.
func (c *Compiler) CompileBoolean(boolean Boolean) ([]x86.Instruction, error) {
	if boolean.Value {
		return []x86.Instruction{x86.Mov{Dst: x86.RAX, Src: x86.Imm(TrueVal)}}, nil
	}
	return []x86.Instruction{x86.Mov{Dst: x86.RAX, Src: x86.Imm(FalseVal)}}, nil
}

// An identifier occurrence: 'input' reads RDI (main expression only), anything else
// loads its stack slot. The overflow check after the RDI copy keeps the invariant
// that every value entering the program has been vetted the same way.
func (c *Compiler) CompileId(id Id, env map[string]int64) ([]x86.Instruction, error) {
	if id.Name == "input" {
		if c.inFunction {
			return nil, fmt.Errorf("Invalid use of reserved keyword 'input' inside a function body")
		}
		return []x86.Instruction{
			x86.Mov{Dst: x86.RAX, Src: x86.RDI},
			x86.Jo{Target: "overflow"},
		}, nil
	}

	offset, found := env[id.Name]
	if !found {
		return nil, fmt.Errorf("Unbound variable identifier %s", id.Name)
	}
	return []x86.Instruction{
		x86.Mov{Dst: x86.RAX, Src: x86.RegOffset{Base: x86.RSP, Offset: offset}},
	}, nil
}

// A 'let': evaluate each binding with the environment accumulated so far (later
// bindings see earlier ones, no binding sees itself), park the value in the next
// free slot and extend a CLONE of the environment, then compile the body.
func (c *Compiler) CompileLet(let Let, si int64, env map[string]int64) ([]x86.Instruction, error) {
	nenv := cloneEnv(env)
	instructions := []x86.Instruction{}

	for _, binding := range let.Bindings {
		value, err := c.CompileExpression(binding.Value, si, nenv)
		if err != nil {
			return nil, err
		}

		instructions = append(instructions, value...)
		instructions = append(instructions, x86.Mov{Dst: x86.RegOffset{Base: x86.RSP, Offset: si * 8}, Src: x86.RAX})
		nenv[binding.Name] = si * 8
		si = si + 1
	}

	body, err := c.CompileExpression(let.Body, si+1, nenv)
	if err != nil {
		return nil, err
	}
	return append(instructions, body...), nil
}

// A 'block': every sub-expression runs at the same stack index, the last one wins.
func (c *Compiler) CompileBlock(block Block, si int64, env map[string]int64) ([]x86.Instruction, error) {
	instructions := []x86.Instruction{}
	for _, expr := range block.Exprs {
		compiled, err := c.CompileExpression(expr, si, env)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, compiled...)
	}
	return instructions, nil
}

// A 'set!': evaluate the new value and store it over the existing slot. The result
// of the whole expression is the stored value, still in RAX.
func (c *Compiler) CompileSet(set Set, si int64, env map[string]int64) ([]x86.Instruction, error) {
	offset, found := env[set.Name]
	if !found {
		return nil, fmt.Errorf("Unbound variable identifier %s", set.Name)
	}

	value, err := c.CompileExpression(set.Value, si, env)
	if err != nil {
		return nil, err
	}
	return append(value, x86.Mov{Dst: x86.RegOffset{Base: x86.RSP, Offset: offset}, Src: x86.RAX}), nil
}

// An 'if': anything that is not the tagged false constant (numbers included) selects
// the then-branch. The fall-through branch compiles at si, the jump-target branch at
// si+1; the asymmetry is deliberate, and since the condition leaves its value only in
// RAX neither branch depends on it.
func (c *Compiler) CompileIf(cond If, si int64, env map[string]int64) ([]x86.Instruction, error) {
	instructions, err := c.CompileExpression(cond.Cond, si, env)
	if err != nil {
		return nil, err
	}

	elseLabel := c.newLabel("if")
	endLabel := c.newLabel("endif")

	instructions = append(instructions,
		x86.Cmp{Dst: x86.RAX, Src: x86.Imm(FalseVal)},
		x86.Je{Target: elseLabel},
	)

	then, err := c.CompileExpression(cond.Then, si, env)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, then...)
	instructions = append(instructions, x86.Jmp{Target: endLabel}, x86.LabelDecl{Name: elseLabel})

	els, err := c.CompileExpression(cond.Else, si+1, env)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, els...)
	return append(instructions, x86.LabelDecl{Name: endLabel}), nil
}

// A 'loop': the body runs forever between a start and an end label; while compiling
// the body the end label sits on top of the break-target stack, so any 'break' inside
// lands just past the backwards jump with its value in RAX.
func (c *Compiler) CompileLoop(loop Loop, si int64, env map[string]int64) ([]x86.Instruction, error) {
	startLabel := c.newLabel("loop")
	endLabel := c.newLabel("loopend")

	c.breaks.Push(endLabel)
	body, err := c.CompileExpression(loop.Body, si, env)
	c.breaks.Pop()
	if err != nil {
		return nil, err
	}

	instructions := []x86.Instruction{x86.LabelDecl{Name: startLabel}}
	instructions = append(instructions, body...)
	return append(instructions, x86.Jmp{Target: startLabel}, x86.LabelDecl{Name: endLabel}), nil
}

// A 'break': evaluate the value and jump to the innermost enclosing loop's end label.
func (c *Compiler) CompileBreak(brk Break, si int64, env map[string]int64) ([]x86.Instruction, error) {
	if c.breaks.Empty() {
		return nil, fmt.Errorf("Error: break must be within a loop")
	}

	value, err := c.CompileExpression(brk.Value, si, env)
	if err != nil {
		return nil, err
	}

	target, _ := c.breaks.Top()
	return append(value, x86.Jmp{Target: target}), nil
}

// Specialized function to compile the unary operators.
func (c *Compiler) CompileUnOp(unop UnOp, si int64, env map[string]int64) ([]x86.Instruction, error) {
	operand, err := c.CompileExpression(unop.Operand, si, env)
	if err != nil {
		return nil, err
	}

	switch unop.Op {
	case Add1:
		operand = append(operand, numberCheck()...)
		return append(operand,
			x86.Add{Dst: x86.RAX, Src: x86.Imm(1 << 1)},
			x86.Jo{Target: "overflow"},
		), nil

	case Sub1:
		operand = append(operand, numberCheck()...)
		return append(operand,
			x86.Sub{Dst: x86.RAX, Src: x86.Imm(1 << 1)},
			x86.Jo{Target: "overflow"},
		), nil

	case IsNum:
		return append(operand, c.tagDispatch(x86.Imm(TrueVal), x86.Imm(FalseVal))...), nil

	case IsBool:
		return append(operand, c.tagDispatch(x86.Imm(FalseVal), x86.Imm(TrueVal))...), nil

	case Print:
		// One extra word keeps RSP 16-byte aligned at the call when si is odd.
		index := si
		if si%2 == 1 {
			index = si + 1
		}
		offset := index * 8

		return append(operand,
			x86.Sub{Dst: x86.RSP, Src: x86.Imm(offset)},
			x86.Push{Src: x86.RDI},
			x86.Mov{Dst: x86.RDI, Src: x86.RAX},
			x86.Call{Target: "snek_print"},
			x86.Pop{Dst: x86.RDI},
			x86.Add{Dst: x86.RSP, Src: x86.Imm(offset)},
		), nil

	default: // Error case, unrecognized operator
		return nil, fmt.Errorf("unrecognized unary operator '%s'", unop.Op)
	}
}

// Specialized function to compile the binary operators.
//
// All of them evaluate one operand into the scratch slot at si and the other at si+1
// (which always ends in RAX). For '-' the evaluation order is swapped so that the
// subtrahend is the one in memory; for '*' the RAX operand loses its tag with an
// arithmetic shift first, so that the product of one shifted and one raw value keeps
// the shifted encoding.
func (c *Compiler) CompileBinOp(binop BinOp, si int64, env map[string]int64) ([]x86.Instruction, error) {
	slot := x86.RegOffset{Base: x86.RSP, Offset: si * 8}

	switch binop.Op {
	case Plus:
		instructions, err := c.compileOperands(binop.Left, binop.Right, si, env, true)
		if err != nil {
			return nil, err
		}
		return append(instructions,
			x86.Add{Dst: x86.RAX, Src: slot},
			x86.Jo{Target: "overflow"},
		), nil

	case Minus:
		instructions, err := c.compileOperands(binop.Right, binop.Left, si, env, true)
		if err != nil {
			return nil, err
		}
		return append(instructions,
			x86.Sub{Dst: x86.RAX, Src: slot},
			x86.Jo{Target: "overflow"},
		), nil

	case Times:
		instructions, err := c.compileOperands(binop.Left, binop.Right, si, env, true)
		if err != nil {
			return nil, err
		}
		return append(instructions,
			x86.Sar{Dst: x86.RAX, Src: x86.Imm(1)},
			x86.IMul{Dst: x86.RAX, Src: slot},
			x86.Jo{Target: "overflow"},
		), nil

	case Equal:
		instructions, err := c.compileOperands(binop.Right, binop.Left, si, env, false)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, sameTypeCheck(si*8)...)
		return append(instructions,
			x86.Cmp{Dst: x86.RAX, Src: slot},
			x86.Mov{Dst: x86.RBX, Src: x86.Imm(TrueVal)},
			x86.Mov{Dst: x86.RAX, Src: x86.Imm(FalseVal)},
			x86.Cmove{Dst: x86.RAX, Src: x86.RBX},
		), nil

	case Greater, GreaterEqual, Less, LessEqual:
		return c.CompileComparison(binop, si, env)

	default: // Error case, unrecognized operator
		return nil, fmt.Errorf("unrecognized binary operator '%s'", binop.Op)
	}
}

// Specialized function to compile the four ordered comparisons.
//
// Both operands must carry the same tag AND be numbers; the comparison reads the
// memory slot (the left operand) against RAX (the right one), so 'jg' really means
// "left greater than right" and so on for the other mnemonics.
func (c *Compiler) CompileComparison(binop BinOp, si int64, env map[string]int64) ([]x86.Instruction, error) {
	slot := x86.RegOffset{Base: x86.RSP, Offset: si * 8}

	instructions, err := c.compileOperands(binop.Left, binop.Right, si, env, false)
	if err != nil {
		return nil, err
	}

	instructions = append(instructions, sameTypeCheck(si*8)...)
	instructions = append(instructions, numberCheck()...)
	instructions = append(instructions, x86.Cmp{Dst: slot, Src: x86.RAX})

	trueLabel := c.newLabel("if")
	endLabel := c.newLabel("endif")

	switch binop.Op {
	case Greater:
		instructions = append(instructions, x86.Jg{Target: trueLabel})
	case GreaterEqual:
		instructions = append(instructions, x86.Jge{Target: trueLabel})
	case Less:
		instructions = append(instructions, x86.Jl{Target: trueLabel})
	case LessEqual:
		instructions = append(instructions, x86.Jle{Target: trueLabel})
	}

	return append(instructions,
		x86.Mov{Dst: x86.RAX, Src: x86.Imm(FalseVal)},
		x86.Jmp{Target: endLabel},
		x86.LabelDecl{Name: trueLabel},
		x86.Mov{Dst: x86.RAX, Src: x86.Imm(TrueVal)},
		x86.LabelDecl{Name: endLabel},
	), nil
}

// A call to a user-defined function, caller-saves and stack-resident.
//
// The arguments are evaluated left to right into ordinary scratch slots, then RSP
// drops by an (even, for 16-byte alignment at the call) number of words covering
// them; each saved word is copied just above the new RSP where the callee expects
// it, the caller's RDI is parked in the first word above the argument block, and
// everything is undone once the callee returns with its value in RAX.
func (c *Compiler) CompileCall(call Call, si int64, env map[string]int64) ([]x86.Instruction, error) {
	if _, found := c.program.Funcs[call.Name]; !found {
		return nil, fmt.Errorf("Invalid function call, '%s' has no definition", call.Name)
	}

	instructions := []x86.Instruction{}
	for idx, arg := range call.Args {
		compiled, err := c.CompileExpression(arg, si+int64(idx), env)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, compiled...)
		instructions = append(instructions,
			x86.Mov{Dst: x86.RegOffset{Base: x86.RSP, Offset: (si + int64(idx)) * 8}, Src: x86.RAX})
	}

	arity := int64(len(call.Args))
	words := si + arity
	if words%2 == 1 {
		words = words + 1
	}
	offset := words * 8
	pad := words - (si + arity)

	// The slot written at si+idx now sits at [rsp + offset - (si+idx)*8]; its
	// destination is [rsp + idx*8]. The two blocks overlap around their midpoint,
	// pairing slot idx with slot arity+pad-idx: an in-place pair needs no copy at
	// all, a crossing pair exchanges its two words through both scratch registers
	// so that neither read happens after the overlapping write.
	instructions = append(instructions, x86.Sub{Dst: x86.RSP, Src: x86.Imm(offset)})
	for idx := int64(0); idx < arity; idx++ {
		src := x86.RegOffset{Base: x86.RSP, Offset: (si+idx)*8 - offset}
		dst := x86.RegOffset{Base: x86.RSP, Offset: -(idx * 8)}

		partner := arity + pad - idx
		switch {
		case partner == idx: // Already in place
		case partner > idx && partner < arity: // Crossing pair, exchanged in one go
			psrc := x86.RegOffset{Base: x86.RSP, Offset: (si+partner)*8 - offset}
			pdst := x86.RegOffset{Base: x86.RSP, Offset: -(partner * 8)}
			instructions = append(instructions,
				x86.Mov{Dst: x86.RBX, Src: src},
				x86.Mov{Dst: x86.RAX, Src: psrc},
				x86.Mov{Dst: dst, Src: x86.RBX},
				x86.Mov{Dst: pdst, Src: x86.RAX},
			)
		case partner < idx && partner >= 0: // Other half of an exchanged pair
		default:
			instructions = append(instructions,
				x86.Mov{Dst: x86.RBX, Src: src},
				x86.Mov{Dst: dst, Src: x86.RBX},
			)
		}
	}

	parked := x86.RegOffset{Base: x86.RSP, Offset: -(arity * 8)}
	return append(instructions,
		x86.Mov{Dst: parked, Src: x86.RDI},
		x86.Call{Target: call.Name},
		x86.Mov{Dst: x86.RDI, Src: parked},
		x86.Add{Dst: x86.RSP, Src: x86.Imm(offset)},
	), nil
}

// ----------------------------------------------------------------------------
// Shared emission helpers

// Evaluates 'first' into the scratch slot at si and 'second' at si+1 (left in RAX),
// optionally wrapping both in the inline number check that guards arithmetic.
func (c *Compiler) compileOperands(first Expr, second Expr, si int64, env map[string]int64, checked bool) ([]x86.Instruction, error) {
	instructions, err := c.CompileExpression(first, si, env)
	if err != nil {
		return nil, err
	}
	if checked {
		instructions = append(instructions, numberCheck()...)
	}
	instructions = append(instructions, x86.Mov{Dst: x86.RegOffset{Base: x86.RSP, Offset: si * 8}, Src: x86.RAX})

	other, err := c.CompileExpression(second, si+1, env)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, other...)
	if checked {
		instructions = append(instructions, numberCheck()...)
	}
	return instructions, nil
}

// The inline number check: a set LSB means boolean, which is fatal at an arithmetic site.
func numberCheck() []x86.Instruction {
	return []x86.Instruction{
		x86.Test{Dst: x86.RAX, Src: x86.Imm(1)},
		x86.Jne{Target: "invalid_arg"},
	}
}

// The inline same-type check: matching tags XOR to a clear LSB, anything else traps.
func sameTypeCheck(offset int64) []x86.Instruction {
	return []x86.Instruction{
		x86.Mov{Dst: x86.RBX, Src: x86.RAX},
		x86.Xor{Dst: x86.RBX, Src: x86.RegOffset{Base: x86.RSP, Offset: offset}},
		x86.Test{Dst: x86.RBX, Src: x86.Imm(1)},
		x86.Jne{Target: "invalid_arg"},
	}
}

// Emits the LSB dispatch shared by 'isnum' and 'isbool': jump on a set tag bit and
// pick one of the two tagged constants on each side.
func (c *Compiler) tagDispatch(onClear x86.Imm, onSet x86.Imm) []x86.Instruction {
	setLabel := c.newLabel("if")
	endLabel := c.newLabel("endif")

	return []x86.Instruction{
		x86.Test{Dst: x86.RAX, Src: x86.Imm(1)},
		x86.Jne{Target: setLabel},
		x86.Mov{Dst: x86.RAX, Src: onClear},
		x86.Jmp{Target: endLabel},
		x86.LabelDecl{Name: setLabel},
		x86.Mov{Dst: x86.RAX, Src: onSet},
		x86.LabelDecl{Name: endLabel},
	}
}

// Produces a fresh, program-unique label with the given classifying prefix.
func (c *Compiler) newLabel(prefix string) string {
	label := fmt.Sprintf("%s_%d", prefix, c.labels)
	c.labels = c.labels + 1
	return label
}

// Defensive copy so nested scopes never mutate their parent's environment.
func cloneEnv(env map[string]int64) map[string]int64 {
	cloned := make(map[string]int64, len(env))
	for name, offset := range env {
		cloned[name] = offset
	}
	return cloned
}
