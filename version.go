package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/folio-hub/folio/internal/version"
)

type versionCmd struct{}

func (*versionCmd) Name() string     { return "version" }
func (*versionCmd) Synopsis() string { return "输出版本与提交信息" }
func (*versionCmd) Usage() string {
	return `folio version
`
}
func (*versionCmd) SetFlags(*flag.FlagSet) {}

// Execute 输出注入的版本 + 提交信息。
func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	fmt.Fprintln(stdOut, version.Full())
	return subcommands.ExitSuccess
}
