package runtime

import (
	"encoding/binary"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/svm"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
)

// ComputeBudgetProgramID configures the compute limit of a transaction.
var ComputeBudgetProgramID = types.MustPubkeyFromBase58("ComputeBudget111111111111111111111111111111")

const computeBudgetSetUnitLimit = 2

// SetComputeUnitLimit builds a compute budget instruction raising or
// lowering the transaction's compute limit.
func SetComputeUnitLimit(units uint32) txn.Instruction {
	data := binary.LittleEndian.AppendUint32([]byte{computeBudgetSetUnitLimit}, units)
	return txn.Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// computeUnitLimit scans msg for a SetComputeUnitLimit instruction. The
// limit is applied before execution, so the instruction itself is a no-op.
func computeUnitLimit(msg *txn.Message, fallback uint64) (uint64, error) {
	limit := fallback
	for _, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(msg.AccountKeys) || msg.AccountKeys[ci.ProgramIDIndex] != ComputeBudgetProgramID {
			continue
		}
		if len(ci.Data) == 5 && ci.Data[0] == computeBudgetSetUnitLimit {
			limit = uint64(binary.LittleEndian.Uint32(ci.Data[1:]))
			continue
		}
		return 0, svm.ErrInvalidInstructionData
	}
	if limit > svm.CUMax {
		limit = svm.CUMax
	}
	return limit, nil
}

type computeBudgetProgram struct{}

func (computeBudgetProgram) ID() types.Pubkey { return ComputeBudgetProgramID }

func (computeBudgetProgram) Process(svm.InvokeContext, []byte) error { return nil }
