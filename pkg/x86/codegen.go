package x86

import (
	"fmt"
)

// ----------------------------------------------------------------------------
// Code Generator

// Takes an 'x86.Program' and spits out its textual (Intel syntax) counterpart.
//
// The translation is a total function over the instruction sum: every variant has
// exactly one spelling and anything outside the sum is an error, never a panic.
// Instructions are indented by two spaces; labels, section headers and the other
// assembler directives sit flush against the margin.
type CodeGenerator struct {
	program Program // The set of instructions to convert to assembly text
}

// Initializes and returns to the caller a brand new 'CodeGenerator' struct.
// Requires that argument Program 'p' (what we want to print) is non-nil.
func NewCodeGenerator(p Program) CodeGenerator {
	return CodeGenerator{program: p}
}

// Translates each instruction in the 'program' to its assembly line.
//
// Each instruction will pass through the following step: evaluation, validation and then
// conversion to its string representation so that it can be further elaborated by the
// function caller (e.g. dumping the listing to a file for nasm to assemble).
func (cg *CodeGenerator) Generate() ([]string, error) {
	lines := make([]string, 0, len(cg.program))

	for _, instruction := range cg.program {
		generated, err := cg.GenerateInstruction(instruction)
		if err != nil {
			return nil, err
		}
		lines = append(lines, generated)
	}

	return lines, nil
}

// Specialized function to convert a single instruction to its assembly line.
func (cg *CodeGenerator) GenerateInstruction(instruction Instruction) (string, error) {
	switch typed := instruction.(type) {
	case Mov:
		return cg.GenerateComputation("mov", typed.Dst, typed.Src)
	case Add:
		return cg.GenerateComputation("add", typed.Dst, typed.Src)
	case Sub:
		return cg.GenerateComputation("sub", typed.Dst, typed.Src)
	case IMul:
		return cg.GenerateComputation("imul", typed.Dst, typed.Src)
	case Sar:
		return cg.GenerateComputation("sar", typed.Dst, typed.Src)
	case Shl:
		return cg.GenerateComputation("shl", typed.Dst, typed.Src)
	case Xor:
		return cg.GenerateComputation("xor", typed.Dst, typed.Src)
	case Test:
		return cg.GenerateComputation("test", typed.Dst, typed.Src)
	case Cmp:
		return cg.GenerateComputation("cmp", typed.Dst, typed.Src)
	case Cmove:
		return cg.GenerateComputation("cmove", typed.Dst, typed.Src)

	case Jmp:
		return cg.GenerateJump("jmp", typed.Target)
	case Je:
		return cg.GenerateJump("je", typed.Target)
	case Jne:
		return cg.GenerateJump("jne", typed.Target)
	case Jg:
		return cg.GenerateJump("jg", typed.Target)
	case Jge:
		return cg.GenerateJump("jge", typed.Target)
	case Jl:
		return cg.GenerateJump("jl", typed.Target)
	case Jle:
		return cg.GenerateJump("jle", typed.Target)
	case Jo:
		return cg.GenerateJump("jo", typed.Target)
	case Call:
		return cg.GenerateJump("call", typed.Target)

	case LabelDecl:
		if typed.Name == "" {
			return "", fmt.Errorf("unable to produce empty label declaration")
		}
		return fmt.Sprintf("%s:", typed.Name), nil

	case Push:
		operand, err := cg.GenerateOperand(typed.Src)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("  push %s", operand), nil
	case Pop:
		operand, err := cg.GenerateOperand(typed.Dst)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("  pop %s", operand), nil
	case Ret:
		return "  ret", nil

	case Section:
		return fmt.Sprintf("section %s", typed.Name), nil
	case Extern:
		return fmt.Sprintf("extern %s", typed.Symbol), nil
	case Global:
		return fmt.Sprintf("global %s", typed.Symbol), nil

	default: // Error case, unrecognized instruction type
		return "", fmt.Errorf("unrecognized instruction '%T'", instruction)
	}
}

// Specialized function to convert a two-operand computation to its assembly line.
func (cg *CodeGenerator) GenerateComputation(mnemonic string, dst Operand, src Operand) (string, error) {
	first, err := cg.GenerateOperand(dst)
	if err != nil {
		return "", err
	}

	second, err := cg.GenerateOperand(src)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("  %s %s, %s", mnemonic, first, second), nil
}

// Specialized function to convert a jump-like instruction (call included) to its assembly line.
// Labels print as bare identifiers in operand position.
func (cg *CodeGenerator) GenerateJump(mnemonic string, target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("unable to produce '%s' with an empty target label", mnemonic)
	}

	return fmt.Sprintf("  %s %s", mnemonic, target), nil
}

// Specialized function to convert an operand to its assembly spelling.
//
// A 'RegOffset' with offset n prints '[base-n]' when n >= 0 and '[base+|n|]' when
// n < 0: the compiler keeps scratch slots at positive offsets (below the stack
// pointer) and reaches caller-provided arguments through negative ones.
func (cg *CodeGenerator) GenerateOperand(operand Operand) (string, error) {
	switch typed := operand.(type) {
	case Reg:
		return string(typed), nil
	case Imm:
		return fmt.Sprintf("%d", int64(typed)), nil
	case RegOffset:
		if typed.Offset < 0 {
			return fmt.Sprintf("[%s+%d]", typed.Base, -typed.Offset), nil
		}
		return fmt.Sprintf("[%s-%d]", typed.Base, typed.Offset), nil
	default: // Error case, unrecognized operand type
		return "", fmt.Errorf("unrecognized operand '%T'", operand)
	}
}
