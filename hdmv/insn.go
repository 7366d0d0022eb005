package hdmv

import (
	"fmt"

	"github.com/chazu/hdmvplay/disc"
)

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Op is a decoded navigation operation. Every (group, subgroup, option)
// triple of a raw command maps to exactly one Op.
type Op uint8

const (
	OpUnknown Op = iota

	// Branch / goto
	OpNOP
	OpGOTO
	OpBREAK

	// Branch / jump
	OpJumpObject
	OpJumpTitle
	OpCallObject
	OpCallTitle
	OpResume

	// Branch / play
	OpPlayPL
	OpPlayPLPI
	OpPlayPLPM
	OpTerminatePL
	OpLinkPI
	OpLinkMK

	// Compare
	OpBC
	OpEQ
	OpNE
	OpGE
	OpGT
	OpLE
	OpLT

	// Set / set
	OpMove
	OpSwap
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpRnd
	OpAnd
	OpOr
	OpXor
	OpBitSet
	OpBitClr
	OpShl
	OpShr

	// Set / set system
	OpSetStream
	OpSetNVTimer
	OpSetButtonPage
	OpEnableButton
	OpDisableButton
	OpSetSecStream
	OpPopupOff
	OpStillOn
	OpStillOff
	OpSetOutputMode
	OpSetStreamSS
	OpSetSystem10
)

// Kind groups opcodes by how the executor treats them.
type Kind uint8

const (
	KindBranch Kind = iota
	KindJump
	KindPlay
	KindCompare
	KindSet
	KindSystem
)

// OpInfo holds metadata about an opcode.
type OpInfo struct {
	Name     string // mnemonic
	Kind     Kind
	MenuOnly bool // only meaningful while a menu button program runs
}

// opTable maps opcodes to their metadata.
var opTable = map[Op]OpInfo{
	OpNOP:   {"NOP", KindBranch, false},
	OpGOTO:  {"GOTO", KindBranch, false},
	OpBREAK: {"BREAK", KindBranch, false},

	OpJumpObject: {"JUMP_OBJECT", KindJump, false},
	OpJumpTitle:  {"JUMP_TITLE", KindJump, false},
	OpCallObject: {"CALL_OBJECT", KindJump, false},
	OpCallTitle:  {"CALL_TITLE", KindJump, false},
	OpResume:     {"RESUME", KindJump, false},

	OpPlayPL:      {"PLAY_PL", KindPlay, false},
	OpPlayPLPI:    {"PLAY_PL_PI", KindPlay, false},
	OpPlayPLPM:    {"PLAY_PL_PM", KindPlay, false},
	OpTerminatePL: {"TERMINATE_PL", KindPlay, false},
	OpLinkPI:      {"LINK_PI", KindPlay, false},
	OpLinkMK:      {"LINK_MK", KindPlay, false},

	OpBC: {"BC", KindCompare, false},
	OpEQ: {"EQ", KindCompare, false},
	OpNE: {"NE", KindCompare, false},
	OpGE: {"GE", KindCompare, false},
	OpGT: {"GT", KindCompare, false},
	OpLE: {"LE", KindCompare, false},
	OpLT: {"LT", KindCompare, false},

	OpMove:   {"MOVE", KindSet, false},
	OpSwap:   {"SWAP", KindSet, false},
	OpAdd:    {"ADD", KindSet, false},
	OpSub:    {"SUB", KindSet, false},
	OpMul:    {"MUL", KindSet, false},
	OpDiv:    {"DIV", KindSet, false},
	OpMod:    {"MOD", KindSet, false},
	OpRnd:    {"RND", KindSet, false},
	OpAnd:    {"AND", KindSet, false},
	OpOr:     {"OR", KindSet, false},
	OpXor:    {"XOR", KindSet, false},
	OpBitSet: {"BITSET", KindSet, false},
	OpBitClr: {"BITCLR", KindSet, false},
	OpShl:    {"SHL", KindSet, false},
	OpShr:    {"SHR", KindSet, false},

	OpSetStream:     {"SET_STREAM", KindSystem, false},
	OpSetNVTimer:    {"SET_NV_TIMER", KindSystem, false},
	OpSetButtonPage: {"SET_BUTTON_PAGE", KindSystem, true},
	OpEnableButton:  {"ENABLE_BUTTON", KindSystem, true},
	OpDisableButton: {"DISABLE_BUTTON", KindSystem, true},
	OpSetSecStream:  {"SET_SEC_STREAM", KindSystem, false},
	OpPopupOff:      {"POPUP_OFF", KindSystem, true},
	OpStillOn:       {"STILL_ON", KindSystem, false},
	OpStillOff:      {"STILL_OFF", KindSystem, false},
	OpSetOutputMode: {"SET_OUTPUT_MODE", KindSystem, false},
	OpSetStreamSS:   {"SET_STREAM_SS", KindSystem, false},
	OpSetSystem10:   {"SETSYSTEM_0x10", KindSystem, false},
}

// Info returns the metadata for an opcode.
func (op Op) Info() OpInfo {
	if info, ok := opTable[op]; ok {
		return info
	}
	return OpInfo{Name: "UNKNOWN", Kind: KindBranch}
}

// String implements the Stringer interface.
func (op Op) String() string {
	return op.Info().Name
}

// ---------------------------------------------------------------------------
// Raw encoding
// ---------------------------------------------------------------------------

// Command groups and subgroups as encoded in the operation word.
const (
	grpBranch  = 0
	grpCompare = 1
	grpSet     = 2

	subGoto = 0
	subJump = 1
	subPlay = 2

	subSet       = 0
	subSetSystem = 1
)

type opKey struct{ grp, sub, opt uint8 }

// decodeTable maps raw (group, subgroup, option) triples to opcodes.
// Compare commands carry no subgroup and are keyed with sub 0.
var decodeTable = map[opKey]Op{
	{grpBranch, subGoto, 0}: OpNOP,
	{grpBranch, subGoto, 1}: OpGOTO,
	{grpBranch, subGoto, 2}: OpBREAK,

	{grpBranch, subJump, 0}: OpJumpObject,
	{grpBranch, subJump, 1}: OpJumpTitle,
	{grpBranch, subJump, 2}: OpCallObject,
	{grpBranch, subJump, 3}: OpCallTitle,
	{grpBranch, subJump, 4}: OpResume,

	{grpBranch, subPlay, 0}: OpPlayPL,
	{grpBranch, subPlay, 1}: OpPlayPLPI,
	{grpBranch, subPlay, 2}: OpPlayPLPM,
	{grpBranch, subPlay, 3}: OpTerminatePL,
	{grpBranch, subPlay, 4}: OpLinkPI,
	{grpBranch, subPlay, 5}: OpLinkMK,

	{grpCompare, 0, 1}: OpBC,
	{grpCompare, 0, 2}: OpEQ,
	{grpCompare, 0, 3}: OpNE,
	{grpCompare, 0, 4}: OpGE,
	{grpCompare, 0, 5}: OpGT,
	{grpCompare, 0, 6}: OpLE,
	{grpCompare, 0, 7}: OpLT,

	{grpSet, subSet, 0x1}: OpMove,
	{grpSet, subSet, 0x2}: OpSwap,
	{grpSet, subSet, 0x3}: OpAdd,
	{grpSet, subSet, 0x4}: OpSub,
	{grpSet, subSet, 0x5}: OpMul,
	{grpSet, subSet, 0x6}: OpDiv,
	{grpSet, subSet, 0x7}: OpMod,
	{grpSet, subSet, 0x8}: OpRnd,
	{grpSet, subSet, 0x9}: OpAnd,
	{grpSet, subSet, 0xa}: OpOr,
	{grpSet, subSet, 0xb}: OpXor,
	{grpSet, subSet, 0xc}: OpBitSet,
	{grpSet, subSet, 0xd}: OpBitClr,
	{grpSet, subSet, 0xe}: OpShl,
	{grpSet, subSet, 0xf}: OpShr,

	{grpSet, subSetSystem, 0x1}:  OpSetStream,
	{grpSet, subSetSystem, 0x2}:  OpSetNVTimer,
	{grpSet, subSetSystem, 0x3}:  OpSetButtonPage,
	{grpSet, subSetSystem, 0x4}:  OpEnableButton,
	{grpSet, subSetSystem, 0x5}:  OpDisableButton,
	{grpSet, subSetSystem, 0x6}:  OpSetSecStream,
	{grpSet, subSetSystem, 0x7}:  OpPopupOff,
	{grpSet, subSetSystem, 0x8}:  OpStillOn,
	{grpSet, subSetSystem, 0x9}:  OpStillOff,
	{grpSet, subSetSystem, 0xa}:  OpSetOutputMode,
	{grpSet, subSetSystem, 0xb}:  OpSetStreamSS,
	{grpSet, subSetSystem, 0x10}: OpSetSystem10,
}

// encodeTable is the inverse of decodeTable.
var encodeTable = func() map[Op]opKey {
	m := make(map[Op]opKey, len(decodeTable))
	for k, op := range decodeTable {
		m[op] = k
	}
	return m
}()

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is a decoded command. Dst and Src are the raw operand fields;
// whether they are literals or register addresses is given by ImmDst and
// ImmSrc.
type Instruction struct {
	Op       Op
	Operands uint8 // operand count declared by the command
	Dst      uint32
	Src      uint32
	ImmDst   bool
	ImmSrc   bool
	Raw      disc.Insn
}

// Decode turns a raw command into an Instruction. All bit unpacking of the
// operation word happens here; unrecognised triples decode to OpUnknown.
func Decode(c disc.Command) Instruction {
	in := Instruction{
		Operands: c.Insn.OpCnt,
		Dst:      c.Dst,
		Src:      c.Src,
		ImmDst:   c.Insn.ImmOp1 != 0,
		ImmSrc:   c.Insn.ImmOp2 != 0,
		Raw:      c.Insn,
	}
	var key opKey
	switch c.Insn.Grp {
	case grpBranch:
		key = opKey{grpBranch, c.Insn.SubGrp, c.Insn.BranchOpt}
	case grpCompare:
		key = opKey{grpCompare, 0, c.Insn.CmpOpt}
	case grpSet:
		key = opKey{grpSet, c.Insn.SubGrp, c.Insn.SetOpt}
	default:
		return in
	}
	in.Op = decodeTable[key]
	return in
}

// DecodeBytes decodes a 12-byte raw command.
func DecodeBytes(b []byte) (Instruction, error) {
	c, err := disc.ParseCommand(b)
	if err != nil {
		return Instruction{}, err
	}
	return Decode(c), nil
}

// Encode builds the raw command for op. dst and src are literals when the
// matching imm flag is set, register addresses otherwise.
func Encode(op Op, dst, src uint32, immDst, immSrc bool) (disc.Command, error) {
	key, ok := encodeTable[op]
	if !ok {
		return disc.Command{}, fmt.Errorf("cannot encode %s", op)
	}
	insn := disc.Insn{OpCnt: 2, Grp: key.grp}
	switch key.grp {
	case grpBranch:
		insn.SubGrp, insn.BranchOpt = key.sub, key.opt
	case grpCompare:
		insn.CmpOpt = key.opt
	case grpSet:
		insn.SubGrp, insn.SetOpt = key.sub, key.opt
	}
	if immDst {
		insn.ImmOp1 = 1
	}
	if immSrc {
		insn.ImmOp2 = 1
	}
	return disc.Command{Insn: insn, Dst: dst, Src: src}, nil
}

// MustEncode is Encode for opcodes known to be valid.
func MustEncode(op Op, dst, src uint32, immDst, immSrc bool) disc.Command {
	c, err := Encode(op, dst, src, immDst, immSrc)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the instruction in assembler form, registers as rN / psrN.
func (in Instruction) String() string {
	operand := func(v uint32, imm bool) string {
		switch {
		case imm:
			return fmt.Sprintf("%d", v)
		case IsPSR(v):
			return fmt.Sprintf("psr%d", v&^PSRFlag)
		default:
			return fmt.Sprintf("r%d", v&gprMask)
		}
	}
	switch in.Operands {
	case 0:
		return in.Op.String()
	case 1:
		return fmt.Sprintf("%s %s", in.Op, operand(in.Dst, in.ImmDst))
	}
	return fmt.Sprintf("%s %s, %s", in.Op, operand(in.Dst, in.ImmDst), operand(in.Src, in.ImmSrc))
}
