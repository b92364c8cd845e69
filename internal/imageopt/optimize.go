// Package imageopt converts the site's photos to WebP so the pages and the
// offline cache carry smaller payloads. JPEG and PNG files wider than MaxWidth
// are downscaled first; each source gets a sibling <name>.webp.
package imageopt

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gen2brain/webp"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

const (
	DefaultMaxWidth = 1920
	DefaultQuality  = 80
)

// ErrNoImages 表示目录中没有 JPEG/PNG 文件，Dir 此时同时返回空报告。
var ErrNoImages = errors.New("no jpeg/png images found")

var supportedExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// Options 控制转换参数，零值使用默认值。
type Options struct {
	MaxWidth int
	Quality  int
}

// Conversion 记录单个文件的转换结果。
type Conversion struct {
	Source   string
	Target   string
	OldBytes int64
	NewBytes int64
	Resized  bool
}

// Savings 返回节省的百分比。
func (c Conversion) Savings() float64 {
	if c.OldBytes == 0 {
		return 0
	}
	return float64(c.OldBytes-c.NewBytes) / float64(c.OldBytes) * 100
}

// Failure 记录转换失败的文件。
type Failure struct {
	Source string
	Err    error
}

// Report 汇总一次目录扫描。
type Report struct {
	Converted []Conversion
	Failed    []Failure
}

// Dir 扫描 dir（不递归）中的 JPEG/PNG 并写出 WebP。单个文件失败只记录日志，继续处理其余文件；
// 只有目录本身无法读取时才返回错误。
func Dir(dir string, opts Options, logger *logrus.Logger) (*Report, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts = opts.withDefaults()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取图片目录失败: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := supportedExts[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	logger.WithFields(logrus.Fields{"action": "optimize_scan", "dir": dir, "files": len(names)}).Info("optimize_scan")

	report := &Report{}
	if len(names) == 0 {
		return report, ErrNoImages
	}
	for _, name := range names {
		source := filepath.Join(dir, name)
		conv, err := File(source, opts)
		if err != nil {
			report.Failed = append(report.Failed, Failure{Source: source, Err: err})
			logger.WithFields(logrus.Fields{"action": "optimize_file", "source": source}).
				WithError(err).Warn("optimize_failed")
			continue
		}
		report.Converted = append(report.Converted, *conv)
		logger.WithFields(logrus.Fields{
			"action":    "optimize_file",
			"source":    source,
			"target":    conv.Target,
			"old_kb":    fmt.Sprintf("%.1f", float64(conv.OldBytes)/1024),
			"new_kb":    fmt.Sprintf("%.1f", float64(conv.NewBytes)/1024),
			"savings":   fmt.Sprintf("%.1f%%", conv.Savings()),
			"resized":   conv.Resized,
			"max_width": opts.MaxWidth,
		}).Info("optimize_complete")
	}
	return report, nil
}

// File 转换单个文件，目标文件已存在时覆盖。
func File(source string, opts Options) (*Conversion, error) {
	opts = opts.withDefaults()

	info, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", source, err)
	}

	resized := false
	if img.Bounds().Dx() > opts.MaxWidth {
		img = Downscale(img, opts.MaxWidth)
		resized = true
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}

	target := strings.TrimSuffix(source, filepath.Ext(source)) + ".webp"
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}

	return &Conversion{
		Source:   source,
		Target:   target,
		OldBytes: info.Size(),
		NewBytes: int64(buf.Len()),
		Resized:  resized,
	}, nil
}

// Downscale 按宽度等比缩放，宽度不超过 maxWidth 时原样返回。
func Downscale(src image.Image, maxWidth int) image.Image {
	bounds := src.Bounds()
	if maxWidth <= 0 || bounds.Dx() <= maxWidth {
		return src
	}
	height := bounds.Dy() * maxWidth / bounds.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	return dst
}

func (o Options) withDefaults() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}
