package imdirect

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // decode jpeg format
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sunshineplan/pdf"
	"github.com/sunshineplan/tiff"
	_ "golang.org/x/image/bmp"  // decode bmp format
	_ "golang.org/x/image/webp" // decode webp format
)

func init() {
	image.RegisterFormat("pdf", "%PDF", pdf.Decode, pdf.DecodeConfig)
}

// Format is an image file format.
type Format int

// Image file formats.
const (
	JPEG Format = iota
	PNG
	GIF
	TIFF
	BMP
	PDF
)

var formatExts = map[Format]string{
	JPEG: "jpg",
	PNG:  "png",
	GIF:  "gif",
	TIFF: "tif",
	BMP:  "bmp",
	PDF:  "pdf",
}

var formatNames = map[string]Format{
	"jpg":  JPEG,
	"jpeg": JPEG,
	"png":  PNG,
	"gif":  GIF,
	"tif":  TIFF,
	"tiff": TIFF,
	"bmp":  BMP,
	"pdf":  PDF,
}

// ErrUnsupportedFormat means the given image format is not supported.
var ErrUnsupportedFormat = errors.New("imdirect: unsupported image format")

func (f Format) String() string {
	if ext, ok := formatExts[f]; ok {
		return ext
	}
	return fmt.Sprintf("Format(%d)", f)
}

// FormatFromExtension parses image format from filename extension:
// "jpg" (or "jpeg"), "png", "gif", "tif" (or "tiff"), "bmp" and "pdf" are supported.
func FormatFromExtension(ext string) (Format, error) {
	if f, ok := formatNames[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return f, nil
	}
	return -1, ErrUnsupportedFormat
}

// FormatFromFilename parses image format from filename.
func FormatFromFilename(filename string) (Format, error) {
	return FormatFromExtension(filepath.Ext(filename))
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	if ext, ok := formatExts[f]; ok {
		return []byte(ext), nil
	}
	return nil, ErrUnsupportedFormat
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) (err error) {
	*f, err = FormatFromExtension(string(text))
	return
}

// TIFFCompression describes the type of compression used in Options.
type TIFFCompression int

// Constants for supported TIFF compression types.
const (
	TIFFUncompressed TIFFCompression = iota
	TIFFDeflate
	TIFFLZW
)

var tiffCompressionNames = map[string]TIFFCompression{
	"none":    TIFFUncompressed,
	"deflate": TIFFDeflate,
	"lzw":     TIFFLZW,
}

func (c TIFFCompression) value() tiff.CompressionType {
	switch c {
	case TIFFDeflate:
		return tiff.Deflate
	case TIFFLZW:
		return tiff.LZW
	}
	return tiff.Uncompressed
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *TIFFCompression) UnmarshalText(text []byte) error {
	if v, ok := tiffCompressionNames[strings.ToLower(string(text))]; ok {
		*c = v
		return nil
	}
	*c = -1
	return fmt.Errorf("unsupported tiff compression: %s", text)
}

// MarshalText implements encoding.TextMarshaler.
func (c TIFFCompression) MarshalText() ([]byte, error) {
	for k, v := range tiffCompressionNames {
		if v == c {
			return []byte(k), nil
		}
	}
	return nil, fmt.Errorf("unsupported tiff compression: %d", c)
}

type encodeConfig struct {
	quality             int
	gifNumColors        int
	gifQuantizer        draw.Quantizer
	gifDrawer           draw.Drawer
	pngCompressionLevel png.CompressionLevel
	tiffCompressionType TIFFCompression
}

var defaultEncodeConfig = encodeConfig{
	quality:             75,
	gifNumColors:        256,
	gifQuantizer:        nil,
	gifDrawer:           nil,
	pngCompressionLevel: png.DefaultCompression,
	tiffCompressionType: TIFFLZW,
}

// EncodeOption sets an optional parameter for the Encode and Save functions.
type EncodeOption func(*encodeConfig)

// Quality returns an EncodeOption that sets the output JPEG or PDF quality.
// Quality ranges from 1 to 100 inclusive, higher is better.
func Quality(quality int) EncodeOption {
	return func(c *encodeConfig) {
		c.quality = quality
	}
}

// GIFNumColors returns an EncodeOption that sets the maximum number of colors
// used in the GIF-encoded image. It ranges from 1 to 256.  Default is 256.
func GIFNumColors(numColors int) EncodeOption {
	return func(c *encodeConfig) {
		c.gifNumColors = numColors
	}
}

// GIFQuantizer returns an EncodeOption that sets the quantizer that is used to produce
// a palette of the GIF-encoded image.
func GIFQuantizer(quantizer draw.Quantizer) EncodeOption {
	return func(c *encodeConfig) {
		c.gifQuantizer = quantizer
	}
}

// GIFDrawer returns an EncodeOption that sets the drawer that is used to convert
// the source image to the desired palette of the GIF-encoded image.
func GIFDrawer(drawer draw.Drawer) EncodeOption {
	return func(c *encodeConfig) {
		c.gifDrawer = drawer
	}
}

// PNGCompressionLevel returns an EncodeOption that sets the compression level
// of the PNG-encoded image. Default is png.DefaultCompression.
func PNGCompressionLevel(level png.CompressionLevel) EncodeOption {
	return func(c *encodeConfig) {
		c.pngCompressionLevel = level
	}
}

// TIFFCompressionType returns an EncodeOption that sets the compression type
// of the TIFF-encoded image. Default is TIFFLZW.
func TIFFCompressionType(compressionType TIFFCompression) EncodeOption {
	return func(c *encodeConfig) {
		c.tiffCompressionType = compressionType
	}
}

// FormatOption is format option
type FormatOption struct {
	Format       Format
	EncodeOption []EncodeOption
}

func (f *FormatOption) config() encodeConfig {
	cfg := defaultEncodeConfig
	if f == nil {
		return cfg
	}
	for _, option := range f.EncodeOption {
		option(&cfg)
	}
	return cfg
}

// Encode writes an image in the specified format.
func (f *FormatOption) Encode(w io.Writer, img image.Image) error {
	var format Format
	if f != nil {
		format = f.Format
	}
	cfg := f.config()

	switch format {
	case JPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(cfg.quality))
	case PNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(cfg.pngCompressionLevel))
	case GIF:
		return imaging.Encode(
			w, img, imaging.GIF,
			imaging.GIFNumColors(cfg.gifNumColors),
			imaging.GIFQuantizer(cfg.gifQuantizer),
			imaging.GIFDrawer(cfg.gifDrawer),
		)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: cfg.tiffCompressionType.value(), Predictor: true})
	case BMP:
		return imaging.Encode(w, img, imaging.BMP)
	case PDF:
		return pdf.Encode(w, []image.Image{img}, &pdf.Options{Quality: cfg.quality})
	}

	return ErrUnsupportedFormat
}
