package disc

import (
	"encoding/binary"
	"fmt"
)

// CommandSize is the encoded size of one navigation command.
const CommandSize = 12

// Insn holds the bit fields of a command's 32-bit operation word.
type Insn struct {
	OpCnt     uint8 `json:"opCnt"`
	Grp       uint8 `json:"grp"`
	SubGrp    uint8 `json:"subGrp"`
	ImmOp1    uint8 `json:"immOp1"`
	ImmOp2    uint8 `json:"immOp2"`
	BranchOpt uint8 `json:"branchOpt"`
	CmpOpt    uint8 `json:"cmpOpt"`
	SetOpt    uint8 `json:"setOpt"`
}

// Command is one raw navigation command as stored on disc.
type Command struct {
	Insn Insn   `json:"insn"`
	Dst  uint32 `json:"dst"`
	Src  uint32 `json:"src"`
}

// ParseCommand decodes a 12-byte command as found in movie objects and
// interactive graphics button segments.
//
//	byte 0: op_cnt:3 grp:2 sub_grp:3
//	byte 1: imm_op1:1 imm_op2:1 reserved:2 branch_opt:4
//	byte 2: reserved:4 cmp_opt:4
//	byte 3: reserved:3 set_opt:5
//	bytes 4-7: destination, bytes 8-11: source (big endian)
func ParseCommand(b []byte) (Command, error) {
	if len(b) < CommandSize {
		return Command{}, fmt.Errorf("command: need %d bytes, have %d", CommandSize, len(b))
	}
	return Command{
		Insn: Insn{
			OpCnt:     (b[0] & 0xE0) >> 5,
			Grp:       (b[0] & 0x18) >> 3,
			SubGrp:    b[0] & 0x07,
			ImmOp1:    (b[1] & 0x80) >> 7,
			ImmOp2:    (b[1] & 0x40) >> 6,
			BranchOpt: b[1] & 0x0F,
			CmpOpt:    b[2] & 0x0F,
			SetOpt:    b[3] & 0x1F,
		},
		Dst: binary.BigEndian.Uint32(b[4:8]),
		Src: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// ParseCommands decodes a packed sequence of commands.
func ParseCommands(b []byte) ([]Command, error) {
	if len(b)%CommandSize != 0 {
		return nil, fmt.Errorf("commands: length %d is not a multiple of %d", len(b), CommandSize)
	}
	cmds := make([]Command, 0, len(b)/CommandSize)
	for off := 0; off < len(b); off += CommandSize {
		c, err := ParseCommand(b[off:])
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}

// Bytes encodes the command back into its 12-byte form.
func (c Command) Bytes() []byte {
	b := make([]byte, CommandSize)
	b[0] = c.Insn.OpCnt<<5 | (c.Insn.Grp&0x03)<<3 | c.Insn.SubGrp&0x07
	b[1] = (c.Insn.ImmOp1&1)<<7 | (c.Insn.ImmOp2&1)<<6 | c.Insn.BranchOpt&0x0F
	b[2] = c.Insn.CmpOpt & 0x0F
	b[3] = c.Insn.SetOpt & 0x1F
	binary.BigEndian.PutUint32(b[4:8], c.Dst)
	binary.BigEndian.PutUint32(b[8:12], c.Src)
	return b
}
