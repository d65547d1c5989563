package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "payment-cli",
	Short: "支付系统运维命令行工具",
	Long: `payment-core 的运维辅助工具。
支持生成托管密钥 keystore、校验 keystore 密码以及查看智能账户地址。`,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
