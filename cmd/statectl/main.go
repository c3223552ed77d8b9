// statectl 对 BadgerDB 目录中的版本化状态做运维操作：
// 创世、写入、读取、生成与校验证明、裁剪历史版本
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"rollupstate/logs"
)

func main() {
	app := newApp()
	err := app.Run(os.Args)
	_ = logs.Sync()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "statectl",
		Usage: "inspect and maintain a versioned rollup state database",
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			hasherFlag,
			logLevelFlag,
		},
		Commands: []*cli.Command{
			initCmd,
			putCmd,
			getCmd,
			proveCmd,
			verifyCmd,
			pruneCmd,
			infoCmd,
		},
	}
}
