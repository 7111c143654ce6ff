package x86_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"its-hmny.dev/snek/pkg/x86"
)

func TestComputations(t *testing.T) {
	// Instantiate a shared codegen instance for every test case
	codegen := x86.NewCodeGenerator(x86.Program{})

	test := func(inst x86.Instruction, expected string) {
		res, err := codegen.GenerateInstruction(inst)
		require.NoError(t, err)
		require.Equal(t, expected, res)
	}

	t.Run("Register and immediate operands", func(t *testing.T) {
		test(x86.Mov{Dst: x86.RAX, Src: x86.Imm(42)}, "  mov rax, 42")
		test(x86.Mov{Dst: x86.RAX, Src: x86.RDI}, "  mov rax, rdi")
		test(x86.Mov{Dst: x86.RDI, Src: x86.Imm(7)}, "  mov rdi, 7")
		test(x86.Add{Dst: x86.RAX, Src: x86.Imm(2)}, "  add rax, 2")
		test(x86.Sub{Dst: x86.RSP, Src: x86.Imm(32)}, "  sub rsp, 32")
		test(x86.Shl{Dst: x86.RAX, Src: x86.Imm(1)}, "  shl rax, 1")
		test(x86.Sar{Dst: x86.RAX, Src: x86.Imm(1)}, "  sar rax, 1")
		test(x86.Test{Dst: x86.RAX, Src: x86.Imm(1)}, "  test rax, 1")
		test(x86.Cmp{Dst: x86.RAX, Src: x86.Imm(1)}, "  cmp rax, 1")
		test(x86.Cmove{Dst: x86.RAX, Src: x86.RBX}, "  cmove rax, rbx")
		test(x86.Mov{Dst: x86.RAX, Src: x86.Imm(-4611686018427387904)}, "  mov rax, -4611686018427387904")
	})

	t.Run("Memory operands", func(t *testing.T) {
		// Positive offsets address the scratch slots below the stack pointer...
		test(x86.Mov{Dst: x86.RegOffset{Base: x86.RSP, Offset: 16}, Src: x86.RAX}, "  mov [rsp-16], rax")
		test(x86.Add{Dst: x86.RAX, Src: x86.RegOffset{Base: x86.RSP, Offset: 24}}, "  add rax, [rsp-24]")
		test(x86.IMul{Dst: x86.RAX, Src: x86.RegOffset{Base: x86.RSP, Offset: 16}}, "  imul rax, [rsp-16]")
		test(x86.Xor{Dst: x86.RBX, Src: x86.RegOffset{Base: x86.RSP, Offset: 8}}, "  xor rbx, [rsp-8]")
		// ... negative ones reach the caller-provided arguments above it.
		test(x86.Mov{Dst: x86.RAX, Src: x86.RegOffset{Base: x86.RSP, Offset: -8}}, "  mov rax, [rsp+8]")
		test(x86.Mov{Dst: x86.RegOffset{Base: x86.RSP, Offset: -16}, Src: x86.RDI}, "  mov [rsp+16], rdi")
		// The zero offset sits on the positive side.
		test(x86.Mov{Dst: x86.RegOffset{Base: x86.RSP, Offset: 0}, Src: x86.RBX}, "  mov [rsp-0], rbx")
	})

	t.Run("Malformed operands", func(t *testing.T) {
		_, err := codegen.GenerateInstruction(x86.Mov{Dst: x86.RAX, Src: nil})
		require.Error(t, err)
		_, err = codegen.GenerateInstruction(x86.Mov{Dst: x86.RAX, Src: "rax"})
		require.Error(t, err)
		_, err = codegen.GenerateInstruction(42)
		require.Error(t, err)
	})
}

func TestControlFlow(t *testing.T) {
	codegen := x86.NewCodeGenerator(x86.Program{})

	test := func(inst x86.Instruction, expected string) {
		res, err := codegen.GenerateInstruction(inst)
		require.NoError(t, err)
		require.Equal(t, expected, res)
	}

	t.Run("Jumps and calls", func(t *testing.T) {
		test(x86.Jmp{Target: "loop_0"}, "  jmp loop_0")
		test(x86.Je{Target: "if_1"}, "  je if_1")
		test(x86.Jne{Target: "invalid_arg"}, "  jne invalid_arg")
		test(x86.Jg{Target: "if_2"}, "  jg if_2")
		test(x86.Jge{Target: "if_3"}, "  jge if_3")
		test(x86.Jl{Target: "if_4"}, "  jl if_4")
		test(x86.Jle{Target: "if_5"}, "  jle if_5")
		test(x86.Jo{Target: "overflow"}, "  jo overflow")
		test(x86.Call{Target: "snek_print"}, "  call snek_print")
	})

	t.Run("Labels, stack ops and returns", func(t *testing.T) {
		test(x86.LabelDecl{Name: "our_code_starts_here"}, "our_code_starts_here:")
		test(x86.LabelDecl{Name: "loopend_4"}, "loopend_4:")
		test(x86.Push{Src: x86.RDI}, "  push rdi")
		test(x86.Push{Src: x86.RSP}, "  push rsp")
		test(x86.Pop{Dst: x86.RDI}, "  pop rdi")
		test(x86.Ret{}, "  ret")
	})

	t.Run("Directives", func(t *testing.T) {
		test(x86.Section{Name: ".text"}, "section .text")
		test(x86.Extern{Symbol: "snek_error"}, "extern snek_error")
		test(x86.Global{Symbol: "our_code_starts_here"}, "global our_code_starts_here")
	})

	t.Run("Malformed targets", func(t *testing.T) {
		_, err := codegen.GenerateInstruction(x86.Jmp{Target: ""})
		require.Error(t, err)
		_, err = codegen.GenerateInstruction(x86.Call{Target: ""})
		require.Error(t, err)
		_, err = codegen.GenerateInstruction(x86.LabelDecl{Name: ""})
		require.Error(t, err)
	})
}

func TestWholeListing(t *testing.T) {
	program := x86.Program{
		x86.Section{Name: ".text"},
		x86.Extern{Symbol: "snek_error"},
		x86.LabelDecl{Name: "throw_error"},
		x86.Push{Src: x86.RSP},
		x86.Call{Target: "snek_error"},
		x86.LabelDecl{Name: "our_code_starts_here"},
		x86.Mov{Dst: x86.RAX, Src: x86.Imm(21)},
		x86.Shl{Dst: x86.RAX, Src: x86.Imm(1)},
		x86.Ret{},
	}

	codegen := x86.NewCodeGenerator(program)
	lines, err := codegen.Generate()
	require.NoError(t, err)
	require.Equal(t, []string{
		"section .text",
		"extern snek_error",
		"throw_error:",
		"  push rsp",
		"  call snek_error",
		"our_code_starts_here:",
		"  mov rax, 21",
		"  shl rax, 1",
		"  ret",
	}, lines)

	// A single malformed instruction poisons the whole translation.
	codegen = x86.NewCodeGenerator(x86.Program{x86.Mov{Dst: nil, Src: nil}})
	_, err = codegen.Generate()
	require.Error(t, err)
}
