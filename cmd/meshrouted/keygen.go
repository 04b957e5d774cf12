package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kabili207/meshroute/crypto/session"
)

func keygenCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new node identity key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := session.GenerateKeyPair()
			if err != nil {
				return fmt.Errorf("generating key pair: %w", err)
			}
			if err := os.WriteFile(outPath, kp.PrivateKey, 0o600); err != nil {
				return fmt.Errorf("writing private key to %s: %w", outPath, err)
			}
			fmt.Printf("private key written to %s\n", outPath)
			fmt.Printf("public key (share with peers): %s\n", base64.StdEncoding.EncodeToString(kp.PublicKey))
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "node.key", "path to write the new private key to")
	return cmd
}
