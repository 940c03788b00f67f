package settlement

import (
	"fmt"
	"math/big"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// verifySolanaTransfer decodes a raw signed transaction and checks that
// it carries a system transfer of at least the required lamports to the
// payee. Runs before broadcast so invalid payments never hit the ledger.
func verifySolanaTransfer(rawTx []byte, payTo string, required *big.Int) error {
	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(rawTx))
	if err != nil {
		return fmt.Errorf("failed to decode transaction: %w", err)
	}

	payee, err := solana.PublicKeyFromBase58(payTo)
	if err != nil {
		return fmt.Errorf("invalid payee address %q: %w", payTo, err)
	}

	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.Program(inst.ProgramIDIndex)
		if err != nil || !prog.Equals(solana.SystemProgramID) {
			continue
		}

		accountMetas := make([]*solana.AccountMeta, len(inst.Accounts))
		for i, accIdx := range inst.Accounts {
			pub := tx.Message.AccountKeys[accIdx]
			writable, err := tx.Message.IsWritable(pub)
			if err != nil {
				return fmt.Errorf("failed to decode transaction accounts: %w", err)
			}
			accountMetas[i] = &solana.AccountMeta{
				PublicKey:  pub,
				IsSigner:   tx.Message.IsSigner(pub),
				IsWritable: writable,
			}
		}

		sysInst, err := system.DecodeInstruction(accountMetas, inst.Data)
		if err != nil {
			continue
		}

		transfer, ok := sysInst.Impl.(*system.Transfer)
		if !ok || transfer.Lamports == nil {
			continue
		}

		// A transfer needs funding and recipient accounts; the decoder
		// accepts shorter lists, so reject them before indexing.
		if len(accountMetas) < 2 {
			return fmt.Errorf("transfer instruction is missing its recipient account")
		}

		recipient := accountMetas[1].PublicKey
		if !recipient.Equals(payee) {
			return fmt.Errorf("payment recipient %s does not match payee %s", recipient, payee)
		}

		amount := new(big.Int).SetUint64(*transfer.Lamports)
		if amount.Cmp(required) < 0 {
			return fmt.Errorf("payment amount %s below required %s lamports", amount, required)
		}

		return nil
	}

	return fmt.Errorf("no transfer to payee found in transaction")
}
