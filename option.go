package imdirect

import (
	"io"
	"path/filepath"
)

var defaultFormat = FormatOption{Format: JPEG}

// Options represents options that can be used to configure a open and save round trip.
type Options struct {
	AutoOrientation bool
	Format          FormatOption
}

// NewOptions creates a new option with default setting.
func NewOptions() Options {
	return Options{AutoOrientation: true, Format: defaultFormat}
}

// SetFormat sets the value for the Format field.
func (opts *Options) SetFormat(f string, options ...EncodeOption) error {
	format, err := FormatFromExtension(f)
	if err != nil {
		return err
	}
	opts.Format = FormatOption{Format: format, EncodeOption: options}
	return nil
}

// Open loads an image from file according options opts.
func (opts *Options) Open(file string) (*Image, error) {
	return Open(file, AutoOrientation(opts.AutoOrientation))
}

// Convert writes image according options opts.
func (opts *Options) Convert(w io.Writer, m *Image) error {
	return Write(w, m, &opts.Format)
}

// ConvertExt convert filename's ext according image format.
func (opts *Options) ConvertExt(filename string) string {
	return filename[0:len(filename)-len(filepath.Ext(filename))] + "." + formatExts[opts.Format.Format]
}
