package cmd

import (
	"encoding/hex"
	"fmt"

	"payment-core/pkg/keystore"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var keygenPassword string

// keygenCmd 生成一把新的托管私钥并输出加密后的 keystore JSON
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "生成新的托管密钥",
	Long:  `生成一把 secp256k1 私钥，用给定密码加密成 keystore JSON 并打印地址信息。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenPassword == "" {
			return fmt.Errorf("必须通过 --password 提供加密密码")
		}

		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("生成私钥失败: %w", err)
		}
		ownerAddress := crypto.PubkeyToAddress(key.PublicKey)
		accountAddress := crypto.CreateAddress(ownerAddress, 0)

		encrypted, err := keystore.EncryptKey(hex.EncodeToString(crypto.FromECDSA(key)), keygenPassword)
		if err != nil {
			return fmt.Errorf("加密失败: %w", err)
		}
		keystoreJSON, err := encrypted.Marshal()
		if err != nil {
			return err
		}

		fmt.Println("---------------------------------------------------")
		fmt.Printf("EOA 地址 (owner):      %s\n", ownerAddress.Hex())
		fmt.Printf("智能账户地址 (sender):  %s\n", accountAddress.Hex())
		fmt.Println("---------------------------------------------------")
		fmt.Println("Keystore JSON:")
		fmt.Println(keystoreJSON)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenPassword, "password", "p", "", "keystore 加密密码")
	rootCmd.AddCommand(keygenCmd)
}
