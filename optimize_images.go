package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/folio-hub/folio/internal/config"
	"github.com/folio-hub/folio/internal/imageopt"
	"github.com/folio-hub/folio/internal/logging"
)

type optimizeImagesCmd struct {
	maxWidth int
	quality  int
	logLevel string
}

func (*optimizeImagesCmd) Name() string     { return "optimize-images" }
func (*optimizeImagesCmd) Synopsis() string { return "将目录中的 JPG/PNG 转换为 WebP" }
func (*optimizeImagesCmd) Usage() string {
	return `folio optimize-images [-max-width 1920] [-quality 80] <dir>

  Converts every .jpg/.jpeg/.png directly under <dir> to a sibling .webp,
  downscaling images wider than -max-width. Files that fail are reported and
  skipped; the exit status is non-zero when any file failed.
`
}

func (c *optimizeImagesCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.maxWidth, "max-width", imageopt.DefaultMaxWidth, "超过该宽度的图片按比例缩小")
	f.IntVar(&c.quality, "quality", imageopt.DefaultQuality, "WebP 质量 (1-100)")
	f.StringVar(&c.logLevel, "log-level", "info", "日志级别")
}

func (c *optimizeImagesCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(stdErr, c.Usage())
		return subcommands.ExitUsageError
	}
	dir := f.Arg(0)

	logger, err := logging.InitLogger(config.GlobalConfig{LogLevel: c.logLevel})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return subcommands.ExitFailure
	}
	logger.SetOutput(stdErr)

	report, err := imageopt.Dir(dir, imageopt.Options{MaxWidth: c.maxWidth, Quality: c.quality}, logger)
	if errors.Is(err, imageopt.ErrNoImages) {
		fmt.Fprintf(stdOut, "%s: %v\n", dir, err)
		return subcommands.ExitSuccess
	}
	if err != nil {
		fmt.Fprintln(stdErr, err)
		return subcommands.ExitFailure
	}

	var before, after int64
	for _, conv := range report.Converted {
		before += conv.OldBytes
		after += conv.NewBytes
		fmt.Fprintf(stdOut, "%s -> %s (%.1f KB -> %.1f KB, %.1f%%)\n",
			conv.Source, conv.Target, float64(conv.OldBytes)/1024, float64(conv.NewBytes)/1024, conv.Savings())
	}
	for _, failure := range report.Failed {
		fmt.Fprintf(stdOut, "%s: %v\n", failure.Source, failure.Err)
	}
	fmt.Fprintf(stdOut, "converted %d, failed %d, %.1f KB -> %.1f KB\n",
		len(report.Converted), len(report.Failed), float64(before)/1024, float64(after)/1024)

	if len(report.Failed) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
