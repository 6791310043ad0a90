package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sunshineplan/imdirect"
	"github.com/sunshineplan/utils/log"
	"github.com/vharitonsky/iniflags"
)

var (
	src         = flag.String("src", "", "")
	dst         = flag.String("dst", "output", "")
	force       = flag.Bool("force", false, "")
	format      = flag.String("format", "jpg", "")
	quality     = flag.Int("quality", 75, "")
	compression = flag.String("compression", "lzw", "")
	list        = flag.Bool("list", false, "")
	worker      = flag.Int("worker", 5, "")
	debug       = flag.Bool("debug", false, "")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
	fmt.Println(`
  --src
		source file or directory
  --dst
		destination directory (default: output)
  --force
		force overwrite (default: false)
  --format
		output format (jpg, jpeg, png, gif, tif, tiff, bmp and pdf are supported, default: jpg)
  --quality
		set jpeg or pdf quality (range 1-100, default: 75)
  --compression
		set tiff compression type (none, lzw, deflate, default: lzw)
  --list
		print the Exif orientation of every JPEG image and exit
  --worker
		number of images converted at the same time (default: 5)
  --debug
		log every converted image`)
}

func main() {
	self, err := os.Executable()
	if err != nil {
		log.Error("Failed to get self path", "error", err)
		os.Exit(1)
	}

	flag.Usage = usage
	iniflags.SetConfigFile(filepath.Join(filepath.Dir(self), "config.ini"))
	iniflags.SetAllowMissingConfigFile(true)
	iniflags.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		log.Error("Failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if *src == "" {
		return errors.New("no source given")
	}
	srcInfo, err := os.Stat(*src)
	if err != nil {
		return err
	}

	if *list {
		images := []string{*src}
		if srcInfo.IsDir() {
			images = loadImages(*src)
		}
		listOrientation(os.Stdout, images)
		return nil
	}

	task := imdirect.NewOptions()
	var ct imdirect.TIFFCompression
	if err := ct.UnmarshalText([]byte(*compression)); err != nil {
		return err
	}
	if err := task.SetFormat(*format, imdirect.Quality(*quality), imdirect.TIFFCompressionType(ct)); err != nil {
		return err
	}

	dstInfo, err := os.Stat(*dst)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(*dst, 0755); err != nil {
			return err
		}
	} else if !dstInfo.IsDir() {
		return errors.New("destination is not a directory")
	}

	j := &job{task: &task, src: *src, dst: *dst, force: *force, debug: *debug}
	switch mode := srcInfo.Mode(); {
	case mode.IsDir():
		images := loadImages(*src)
		log.Info("Found images", "total", len(images))
		start := time.Now()
		res := j.run(ctx, images, *worker)
		log.Info("Job done",
			"converted", res.converted.Load(),
			"skipped", res.skipped.Load(),
			"failed", res.failed.Load(),
			"elapsed", time.Since(start),
		)
		if res.failed.Load() > 0 {
			return fmt.Errorf("%d images failed", res.failed.Load())
		}
	case mode.IsRegular():
		output, err := j.output(*src)
		if err != nil {
			return err
		}
		if err := j.convert(*src, output); err != nil {
			if errors.Is(err, errSkip) {
				return errors.New("destination already exist")
			}
			return err
		}
	default:
		return errors.New("unknown source")
	}
	log.Info("Done.")
	return nil
}
