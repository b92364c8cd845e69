package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
)

// cliOptions 汇总顶层标志，子命令通过它解析最终的配置路径。
type cliOptions struct {
	configFlag string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

// run 构建子命令并执行，返回退出码，方便测试。
func run(ctx context.Context, args []string) int {
	opts := &cliOptions{}
	top := flag.NewFlagSet("folio", flag.ContinueOnError)
	top.SetOutput(stdErr)
	top.StringVar(&opts.configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 FOLIO_CONFIG 覆盖）")

	commander := subcommands.NewCommander(top, "folio")
	commander.Output = stdOut
	commander.Error = stdErr
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	commander.Register(&serveCmd{opts: opts}, "")
	commander.Register(&checkConfigCmd{opts: opts}, "")
	commander.Register(&optimizeImagesCmd{}, "")
	commander.Register(&versionCmd{}, "")

	if err := top.Parse(args); err != nil {
		return int(subcommands.ExitUsageError)
	}
	return int(commander.Execute(ctx))
}

// configPath 按 -config > FOLIO_CONFIG > config.toml 的优先级返回配置路径。
func (o *cliOptions) configPath() string {
	if o != nil && o.configFlag != "" {
		return o.configFlag
	}
	if env := os.Getenv("FOLIO_CONFIG"); env != "" {
		return env
	}
	return "config.toml"
}
