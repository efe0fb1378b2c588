package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "resumectl",
	Short: "civy 运维命令行",
	Long: `resumectl 提供不经过 HTTP 的运维操作：
创建需要首次改密的账号，以及把简历 JSON 直接渲染为 PDF、PNG 或 HTML。`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
