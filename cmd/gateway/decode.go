package main

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/siddimore/bsv-paygate/pkg/paygate/txcodec"
)

type decodedOutput struct {
	Index         int    `json:"index"`
	Satoshis      uint64 `json:"satoshis"`
	LockingScript string `json:"lockingScript"`
}

type decodeResult struct {
	Format  string          `json:"format"`
	TxID    string          `json:"txid"`
	Inputs  []txcodec.Input `json:"inputs"`
	Outputs []decodedOutput `json:"outputs"`
	Total   uint64          `json:"totalSatoshis"`
}

var decodeCmd = &cobra.Command{
	Use:   "decode <transaction|->",
	Short: "Decode a payment transaction as the gate would",
	Long: `decode detects the encoding of a transaction string (hex, base64 raw,
base64 BEEF or atomic BEEF) and prints the decoded transaction. Pass "-" to
read it from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]
		if input == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			input = string(b)
		}
		res, err := decodeTransaction(strings.TrimSpace(input))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func decodeTransaction(s string) (*decodeResult, error) {
	d, err := txcodec.Decode(s)
	if err != nil {
		return nil, err
	}
	res := &decodeResult{
		Format: d.Format.String(),
		TxID:   d.Tx.ID,
		Inputs: d.Tx.Inputs,
	}
	for i, out := range d.Tx.Outputs {
		res.Outputs = append(res.Outputs, decodedOutput{
			Index:         i,
			Satoshis:      out.Satoshis,
			LockingScript: hex.EncodeToString(out.LockingScript),
		})
		res.Total += out.Satoshis
	}
	return res, nil
}
