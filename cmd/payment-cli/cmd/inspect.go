package cmd

import (
	"fmt"
	"os"

	"payment-core/pkg/keystore"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	inspectFile     string
	inspectPassword string
)

// inspectCmd 校验 keystore 密码并打印地址 (不输出私钥)
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "校验 keystore 文件",
	Long:  `用给定密码解密 keystore JSON 文件，校验密码正确性并打印派生地址。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inspectFile == "" || inspectPassword == "" {
			return fmt.Errorf("必须提供 --file 和 --password")
		}

		data, err := os.ReadFile(inspectFile)
		if err != nil {
			return fmt.Errorf("读取文件失败: %w", err)
		}
		encrypted, err := keystore.Unmarshal(string(data))
		if err != nil {
			return fmt.Errorf("解析 keystore 失败: %w", err)
		}

		privateKeyHex, err := keystore.DecryptKey(encrypted, inspectPassword)
		if err != nil {
			return fmt.Errorf("解密失败 (密码错误或文件损坏): %w", err)
		}
		key, err := crypto.HexToECDSA(privateKeyHex)
		if err != nil {
			return err
		}

		ownerAddress := crypto.PubkeyToAddress(key.PublicKey)
		fmt.Println("密码校验通过 ✅")
		fmt.Printf("EOA 地址 (owner):      %s\n", ownerAddress.Hex())
		fmt.Printf("智能账户地址 (sender):  %s\n", crypto.CreateAddress(ownerAddress, 0).Hex())
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectFile, "file", "f", "", "keystore JSON 文件路径")
	inspectCmd.Flags().StringVarP(&inspectPassword, "password", "p", "", "keystore 密码")
	rootCmd.AddCommand(inspectCmd)
}
