package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"

	"github.com/sunshineplan/imdirect"
	"github.com/sunshineplan/utils/log"
	"golang.org/x/sync/errgroup"
)

var supported = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|tiff?|bmp|webp)$`)

var errSkip = errors.New("skip")

func loadImages(root string) (imgs []string) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Error("Failed to walk", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() && supported.MatchString(d.Name()) {
			imgs = append(imgs, path)
		}
		return nil
	})
	return
}

// probe returns the Exif orientation of a JPEG file, or Unspecified.
func probe(file string) imdirect.Orientation {
	f, err := os.Open(file)
	if err != nil {
		return imdirect.Unspecified
	}
	defer f.Close()
	o, _ := imdirect.ReadOrientation(f)
	return o
}

func listOrientation(w io.Writer, images []string) {
	for _, i := range images {
		if format, err := imdirect.FormatFromFilename(i); err != nil || format != imdirect.JPEG {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", i, probe(i))
	}
}

type job struct {
	task  *imdirect.Options
	src   string
	dst   string
	force bool
	debug bool
}

func (j *job) output(file string) (string, error) {
	if j.src == file {
		return j.task.ConvertExt(filepath.Join(j.dst, filepath.Base(file))), nil
	}
	rel, err := filepath.Rel(j.src, file)
	if err != nil {
		return "", err
	}
	return j.task.ConvertExt(filepath.Join(j.dst, rel)), nil
}

// upright reports whether file can be copied as is: it is already in the
// output format and, for JPEG, needs no rotation.
func (j *job) upright(file string) bool {
	format, err := imdirect.FormatFromFilename(file)
	if err != nil || format != j.task.Format.Format {
		return false
	}
	if format != imdirect.JPEG || !j.task.AutoOrientation {
		return true
	}
	switch probe(file) {
	case imdirect.Unspecified, imdirect.Normal:
		return true
	}
	return false
}

func (j *job) convert(image, output string) (err error) {
	if _, err = os.Stat(output); err == nil {
		if !j.force {
			return errSkip
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.Error("Failed to get FileInfo", "name", output, "error", err)
		return
	}
	path := filepath.Dir(output)
	if err = os.MkdirAll(path, 0755); err != nil {
		log.Error("Failed to create directory", "path", path, "error", err)
		return
	}
	if j.upright(image) {
		if err = copyFile(image, output); err != nil {
			log.Error("Failed to copy image", "image", image, "error", err)
		}
		return
	}
	img, err := j.task.Open(image)
	if err != nil {
		log.Error("Failed to open image", "image", image, "error", err)
		return
	}
	f, err := os.CreateTemp(path, "*.tmp")
	if err != nil {
		log.Error("Failed to create temporary file", "path", path, "error", err)
		return
	}
	defer os.Remove(f.Name())
	if err = j.task.Convert(f, img); err != nil {
		f.Close()
		log.Error("Failed to convert image", "image", image, "error", err)
		return
	}
	f.Close()
	if err = os.Rename(f.Name(), output); err != nil {
		log.Error("Failed to move file", "from", f.Name(), "to", output, "error", err)
	}
	return
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	f, err := os.CreateTemp(filepath.Dir(dst), "*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := io.Copy(f, in); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), dst)
}

type result struct {
	converted, skipped, failed atomic.Int64
}

func (j *job) run(ctx context.Context, images []string, worker int) *result {
	res := new(result)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(worker, 1))
	for _, image := range images {
		g.Go(func() error {
			if ctx.Err() != nil {
				res.skipped.Add(1)
				return nil
			}
			output, err := j.output(image)
			if err != nil {
				log.Error("Failed to resolve output", "image", image, "error", err)
				res.failed.Add(1)
				return nil
			}
			switch err := j.convert(image, output); {
			case err == nil:
				res.converted.Add(1)
				if j.debug {
					log.Info("Converted", "image", image, "output", output)
				}
			case errors.Is(err, errSkip):
				res.skipped.Add(1)
				log.Info("Skip", "output", output)
			default:
				res.failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return res
}
