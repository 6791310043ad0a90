package imdirect

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	goexif "github.com/rwcarlsen/goexif/exif"
)

// Image is a decoded image together with the Exif data it was loaded with.
// Exif is nil when the source carried none.
type Image struct {
	image.Image
	Format string
	Exif   *Exif
}

type decodeConfig struct {
	autoOrientation bool
}

var autoOrientationDisabled atomic.Bool

// SetAutoOrientation sets the auto-orientation mode used by Decode and Open
// when no AutoOrientation option is given. By default it's enabled.
func SetAutoOrientation(enabled bool) {
	autoOrientationDisabled.Store(!enabled)
}

// DecodeOption sets an optional parameter for the Decode and Open functions.
type DecodeOption func(*decodeConfig)

// AutoOrientation returns a DecodeOption that sets the auto-orientation mode.
// If auto-orientation is enabled, a JPEG image will be transformed after decoding
// according to the EXIF orientation tag (if present), and its Exif data updated
// to describe the upright image.
func AutoOrientation(enabled bool) DecodeOption {
	return func(c *decodeConfig) {
		c.autoOrientation = enabled
	}
}

// Decode reads an image from r.
// If want to use custom image format packages which were registered in image package, please
// make sure these custom packages imported before importing imdirect package.
func Decode(r io.Reader, opts ...DecodeOption) (*Image, error) {
	cfg := decodeConfig{autoOrientation: !autoOrientationDisabled.Load()}
	for _, option := range opts {
		option(&cfg)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	m := &Image{Image: img, Format: format}
	if format != "jpeg" {
		return m, nil
	}

	x, err := LoadExif(data)
	if err != nil {
		return m, nil
	}
	m.Exif = x
	if !cfg.autoOrientation {
		return m, nil
	}

	// Only the primary image directory decides whether pixels need fixing.
	o := x.orientation(IFD0)
	if o == Unspecified || o == Normal {
		return m, nil
	}
	rotated, err := Rotate(img, o)
	if err != nil {
		return m, nil
	}
	if err := x.UpdateForRotatedImage(); err != nil {
		return nil, err
	}
	m.Image = rotated

	return m, nil
}

// DecodeConfig decodes the color model and dimensions of an image that has been encoded in a
// registered format. The string returned is the format name used during format registration.
// For JPEG images the dimensions are those of the upright image.
func DecodeConfig(r io.Reader) (image.Config, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return image.Config{}, "", err
	}
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return config, format, err
	}
	if format == "jpeg" {
		if o, err := ReadOrientation(bytes.NewReader(data)); err == nil && o.SwapsDimensions() {
			config.Width, config.Height = config.Height, config.Width
		}
	}
	return config, format, nil
}

// ReadOrientation reads the orientation tag of a JPEG or TIFF stream without
// decoding any pixels.
func ReadOrientation(r io.Reader) (Orientation, error) {
	x, err := goexif.Decode(r)
	if err != nil {
		return Unspecified, fmt.Errorf("%w: %v", ErrNoExif, err)
	}
	tag, err := x.Get(goexif.Orientation)
	if err != nil {
		return Unspecified, ErrNoOrientation
	}
	v, err := tag.Int(0)
	if err != nil {
		return Unspecified, fmt.Errorf("%w: %v", ErrInvalidOrientation, err)
	}
	return Orientation(v), nil
}

// Open loads an image from file.
func Open(file string, opts ...DecodeOption) (*Image, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f, opts...)
}

// Write image according format option, keeping its Exif data when writing JPEG.
func Write(w io.Writer, m *Image, option *FormatOption) error {
	return WriteWithExif(w, m.Image, m.Exif, option)
}

// WriteWithExif writes base according format option. If the output format is
// JPEG and x is not nil, x is embedded in the output.
func WriteWithExif(w io.Writer, base image.Image, x *Exif, option *FormatOption) error {
	if x == nil || (option != nil && option.Format != JPEG) {
		return option.Encode(w, base)
	}

	var buf bytes.Buffer
	if err := option.Encode(&buf, base); err != nil {
		return err
	}
	return x.WriteJPEG(w, buf.Bytes())
}

// Save saves image according format option, keeping its Exif data when writing JPEG.
func Save(output string, m *Image, option *FormatOption) error {
	return SaveWithExif(output, m.Image, m.Exif, option)
}

// SaveWithExif saves base according format option. If the output format is
// JPEG and x is not nil, x is embedded in the output.
func SaveWithExif(output string, base image.Image, x *Exif, option *FormatOption) error {
	f, err := os.CreateTemp(filepath.Dir(output), "*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := WriteWithExif(f, base, x, option); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), output)
}
