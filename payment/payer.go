package payment

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/btcfi/gateway"
)

// PayerOf extracts the paying wallet from a proof without contacting the chain.
// EVM proofs name it in the authorization; Solana proofs carry it as the owner of the
// token transfer (or the funding account of a SOL transfer). Returns "" when unknown.
func PayerOf(proof gateway.PaymentProof) string {
	switch p := proof.(type) {
	case gateway.EVMProof:
		return p.Authorization.From
	case gateway.SVMProof:
		payer, err := solanaPayer(p.Transaction)
		if err != nil {
			return ""
		}
		return payer
	default:
		return ""
	}
}

func solanaPayer(encoded string) (string, error) {
	tx, err := solana.TransactionFromBase64(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}

	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.ResolveProgramIDIndex(inst.ProgramIDIndex)
		if err != nil {
			continue
		}
		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			continue
		}

		switch {
		case prog.Equals(solana.TokenProgramID):
			ix, err := token.DecodeInstruction(accounts, inst.Data)
			if err != nil {
				continue
			}
			switch t := ix.Impl.(type) {
			case *token.TransferChecked:
				return t.GetOwnerAccount().PublicKey.String(), nil
			case *token.Transfer:
				return t.GetOwnerAccount().PublicKey.String(), nil
			}
		case prog.Equals(solana.SystemProgramID):
			ix, err := system.DecodeInstruction(accounts, inst.Data)
			if err != nil {
				continue
			}
			if t, ok := ix.Impl.(*system.Transfer); ok {
				return t.GetFundingAccount().PublicKey.String(), nil
			}
		}
	}
	return "", nil
}
