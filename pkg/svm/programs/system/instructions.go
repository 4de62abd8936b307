package system

import (
	"encoding/binary"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
)

func header(discriminant uint32, size int) []byte {
	buf := make([]byte, 4, 4+size)
	binary.LittleEndian.PutUint32(buf, discriminant)
	return buf
}

// Transfer builds a lamport transfer.
func Transfer(from, to types.Pubkey, lamports uint64) txn.Instruction {
	data := binary.LittleEndian.AppendUint64(header(InstructionTransfer, 8), lamports)
	return txn.Instruction{
		ProgramID: ProgramID,
		Accounts: []txn.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}

// CreateAccount builds an allocation of space bytes owned by owner, funded by funder.
func CreateAccount(funder, created types.Pubkey, lamports, space uint64, owner types.Pubkey) txn.Instruction {
	data := header(InstructionCreateAccount, 48)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	data = binary.LittleEndian.AppendUint64(data, space)
	data = append(data, owner[:]...)
	return txn.Instruction{
		ProgramID: ProgramID,
		Accounts: []txn.AccountMeta{
			{Pubkey: funder, IsSigner: true, IsWritable: true},
			{Pubkey: created, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// Assign builds an ownership change.
func Assign(account, owner types.Pubkey) txn.Instruction {
	return txn.Instruction{
		ProgramID: ProgramID,
		Accounts:  []txn.AccountMeta{{Pubkey: account, IsSigner: true, IsWritable: true}},
		Data:      append(header(InstructionAssign, 32), owner[:]...),
	}
}

// Allocate builds a data allocation for a system-owned account.
func Allocate(account types.Pubkey, space uint64) txn.Instruction {
	return txn.Instruction{
		ProgramID: ProgramID,
		Accounts:  []txn.AccountMeta{{Pubkey: account, IsSigner: true, IsWritable: true}},
		Data:      binary.LittleEndian.AppendUint64(header(InstructionAllocate, 8), space),
	}
}
