package imdirect

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/disintegration/imaging"
	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	"github.com/sunshineplan/utils/log"
)

var (
	// ErrNoExif is returned when the data carries no Exif block.
	ErrNoExif = errors.New("no exif data found")
	// ErrTagNotFound is returned when the requested tag is absent.
	ErrTagNotFound = errors.New("exif tag not found")
	// ErrNoThumbnail is returned when the Exif block has no thumbnail.
	ErrNoThumbnail = errors.New("no exif thumbnail")
)

// Exif tag IDs touched when an image is rotated.
const (
	TagImageWidth      uint16 = 0x0100
	TagImageLength     uint16 = 0x0101
	TagOrientation     uint16 = 0x0112
	TagXResolution     uint16 = 0x011a
	TagYResolution     uint16 = 0x011b
	TagTileWidth       uint16 = 0x0142
	TagTileLength      uint16 = 0x0143
	TagPixelXDimension uint16 = 0xa002
	TagPixelYDimension uint16 = 0xa003

	tagExifIFDPointer uint16 = 0x8769
)

// IFD selects an image file directory of the Exif block.
type IFD int

// Directories of an Exif block.
const (
	IFD0    IFD = iota // primary image
	IFD1               // thumbnail
	ExifIFD            // Exif sub-IFD
)

func (i IFD) String() string {
	switch i {
	case IFD0:
		return "IFD0"
	case IFD1:
		return "IFD1"
	case ExifIFD:
		return "Exif"
	}
	return fmt.Sprintf("IFD(%d)", int(i))
}

// pairs of tags exchanged when width and height trade places.
var (
	ifdSwaps = [][2]uint16{
		{TagImageWidth, TagImageLength},
		{TagXResolution, TagYResolution},
		{TagTileWidth, TagTileLength},
	}
	exifSwaps = [][2]uint16{
		{TagPixelXDimension, TagPixelYDimension},
	}
)

var ifdMapping = sync.OnceValues(func() (*exifcommon.IfdMapping, error) {
	im := exifcommon.NewIfdMapping()
	if err := exifcommon.LoadStandardIfds(im); err != nil {
		return nil, err
	}
	return im, nil
})

// Exif is a parsed Exif block that can be modified and encoded again.
type Exif struct {
	raw   []byte
	order binary.ByteOrder
	index exif.IfdIndex
	root  *exif.IfdBuilder
}

// LoadExif locates and parses the Exif block in data, which may be a whole
// JPEG file or a raw Exif block.
func LoadExif(data []byte) (*Exif, error) {
	if bytes.HasPrefix(data, []byte{0xff, 0xd8}) {
		if raw, err := app1Exif(data); err == nil {
			return ParseExif(raw)
		} else if errors.Is(err, exif.ErrNoExif) {
			return nil, ErrNoExif
		}
	}
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return nil, ErrNoExif
		}
		return nil, fmt.Errorf("failed to search exif: %w", err)
	}
	return ParseExif(raw)
}

var exifHeader = []byte("Exif\x00\x00")

// app1Exif returns the payload of the Exif APP1 segment of a JPEG stream.
func app1Exif(jpegData []byte) ([]byte, error) {
	sl, err := segments(jpegData)
	if err != nil {
		return nil, err
	}
	_, s, err := sl.FindExif()
	if err != nil {
		return nil, err
	}
	return bytes.TrimPrefix(s.Data, exifHeader), nil
}

func segments(jpegData []byte) (*jpegstructure.SegmentList, error) {
	mc, err := jpegstructure.NewJpegMediaParser().ParseBytes(jpegData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jpeg: %w", err)
	}
	sl, ok := mc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, errors.New("unexpected jpeg media context")
	}
	return sl, nil
}

// ParseExif parses a raw Exif block starting at its TIFF header.
func ParseExif(raw []byte) (*Exif, error) {
	if len(raw) == 0 {
		return nil, ErrNoExif
	}
	im, err := ifdMapping()
	if err != nil {
		return nil, err
	}
	ti, err := tagIndex(raw)
	if err != nil {
		return nil, err
	}
	eh, index, err := exif.Collect(im, ti, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse exif: %w", err)
	}
	root, err := newBuilder(index.RootIfd)
	if err != nil {
		return nil, err
	}
	return &Exif{
		raw:   raw,
		order: eh.ByteOrder,
		index: index,
		root:  root,
	}, nil
}

// newBuilder copies the parsed chain into a builder. go-exif panics on
// values it can read but not copy.
func newBuilder(root *exif.Ifd) (ib *exif.IfdBuilder, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to copy exif: %v", r)
		}
	}()
	return exif.NewIfdBuilderFromExistingChain(root), nil
}

// Bytes returns the encoded Exif block, starting at its TIFF header.
func (x *Exif) Bytes() []byte {
	return x.raw
}

// ByteOrder returns the byte order of the Exif block.
func (x *Exif) ByteOrder() binary.ByteOrder {
	return x.order
}

func (x *Exif) ifd(which IFD) *exif.Ifd {
	root := x.index.RootIfd
	if root == nil {
		return nil
	}
	switch which {
	case IFD0:
		return root
	case IFD1:
		return root.NextIfd()
	case ExifIFD:
		child, err := root.ChildWithIfdPath(exifcommon.IfdExifStandardIfdIdentity)
		if err != nil {
			return nil
		}
		return child
	}
	return nil
}

func (x *Exif) builder(which IFD) (*exif.IfdBuilder, error) {
	switch which {
	case IFD0:
		return x.root, nil
	case IFD1:
		ib, err := x.root.NextIb()
		if err != nil {
			return nil, err
		}
		if ib == nil {
			return nil, fmt.Errorf("%s not present", which)
		}
		return ib, nil
	case ExifIFD:
		return x.root.ChildWithTagId(tagExifIFDPointer)
	}
	return nil, fmt.Errorf("unknown directory %s", which)
}

func (x *Exif) entry(which IFD, tag uint16) (*exif.IfdTagEntry, error) {
	ifd := x.ifd(which)
	if ifd == nil {
		return nil, ErrTagNotFound
	}
	results, err := ifd.FindTagWithId(tag)
	if err != nil || len(results) == 0 {
		return nil, ErrTagNotFound
	}
	return results[0], nil
}

// Value returns the decoded value of tag in the given directory.
func (x *Exif) Value(which IFD, tag uint16) (any, error) {
	ite, err := x.entry(which, tag)
	if err != nil {
		return nil, err
	}
	return ite.Value()
}

func (x *Exif) orientation(which IFD) Orientation {
	v, err := x.Value(which, TagOrientation)
	if err != nil {
		return Unspecified
	}
	switch v := v.(type) {
	case []uint16:
		if len(v) > 0 {
			return Orientation(v[0])
		}
	case []uint32:
		if len(v) > 0 {
			return Orientation(v[0])
		}
	}
	return Unspecified
}

// Orientation returns the orientation stored in IFD0, falling back to IFD1.
// It returns Unspecified if neither carries one.
func (x *Exif) Orientation() Orientation {
	if o := x.orientation(IFD0); o != Unspecified {
		return o
	}
	return x.orientation(IFD1)
}

// Thumbnail returns the JPEG thumbnail stored in IFD1.
func (x *Exif) Thumbnail() ([]byte, error) {
	ifd := x.ifd(IFD1)
	if ifd == nil {
		return nil, ErrNoThumbnail
	}
	data, err := ifd.Thumbnail()
	if err != nil || len(data) == 0 {
		return nil, ErrNoThumbnail
	}
	return data, nil
}

// swap exchanges the values of tags a and b, together with their types.
// Nothing happens unless both are present.
func (x *Exif) swap(which IFD, a, b uint16) error {
	ea, err := x.entry(which, a)
	if err != nil {
		return nil
	}
	eb, err := x.entry(which, b)
	if err != nil {
		return nil
	}
	rawA, err := ea.GetRawBytes()
	if err != nil {
		return err
	}
	rawB, err := eb.GetRawBytes()
	if err != nil {
		return err
	}
	ib, err := x.builder(which)
	if err != nil {
		return err
	}
	path := x.ifd(which).IfdIdentity().UnindexedString()
	if err := ib.Set(exif.NewBuilderTag(path, a, eb.TagType(), exif.NewIfdBuilderTagValueFromBytes(rawB), x.order)); err != nil {
		return err
	}
	return ib.Set(exif.NewBuilderTag(path, b, ea.TagType(), exif.NewIfdBuilderTagValueFromBytes(rawA), x.order))
}

// setNormal stores Normal as a SHORT orientation in the given directory,
// whatever type the tag had before.
func (x *Exif) setNormal(which IFD) error {
	ib, err := x.builder(which)
	if err != nil {
		return err
	}
	v := make([]byte, 2)
	x.order.PutUint16(v, uint16(Normal))
	return ib.Set(exif.NewBuilderTag(ib.IfdIdentity().UnindexedString(), TagOrientation, exifcommon.TypeShort, exif.NewIfdBuilderTagValueFromBytes(v), x.order))
}

// UpdateForRotatedImage rewrites the Exif block to describe an image that has
// been rotated upright according to the orientation it carries. The
// orientation becomes Normal, dimension related tags are swapped for the
// orientations that exchange width and height, and the thumbnail is rotated.
// Without an orientation tag nothing is changed.
func (x *Exif) UpdateForRotatedImage() error {
	o := x.Orientation()
	if o == Unspecified {
		return nil
	}

	if err := x.setNormal(IFD0); err != nil {
		return fmt.Errorf("failed to set %s orientation: %w", IFD0, err)
	}
	if x.orientation(IFD1) != Unspecified {
		if err := x.setNormal(IFD1); err != nil {
			return fmt.Errorf("failed to set %s orientation: %w", IFD1, err)
		}
	}

	if o.SwapsDimensions() {
		for _, which := range []IFD{IFD0, IFD1} {
			for _, pair := range ifdSwaps {
				if err := x.swap(which, pair[0], pair[1]); err != nil {
					return fmt.Errorf("failed to swap %s tags %#04x and %#04x: %w", which, pair[0], pair[1], err)
				}
			}
		}
		for _, pair := range exifSwaps {
			if err := x.swap(ExifIFD, pair[0], pair[1]); err != nil {
				return fmt.Errorf("failed to swap %s tags %#04x and %#04x: %w", ExifIFD, pair[0], pair[1], err)
			}
		}
	}

	if thumbnail, err := x.Thumbnail(); err == nil {
		if err := x.rotateThumbnail(thumbnail, o); err != nil {
			log.Warn("Failed to rotate exif thumbnail", "orientation", o, "error", err)
		}
	}

	return x.reload()
}

func (x *Exif) rotateThumbnail(data []byte, o Orientation) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if img, err = Rotate(img, o); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return err
	}
	ib, err := x.builder(IFD1)
	if err != nil {
		return err
	}
	return ib.SetThumbnail(buf.Bytes())
}

// reload encodes the pending changes and parses the result, so that reads
// reflect them.
func (x *Exif) reload() error {
	raw, err := exif.NewIfdByteEncoder().EncodeToExif(x.root)
	if err != nil {
		return fmt.Errorf("failed to encode exif: %w", err)
	}
	updated, err := ParseExif(raw)
	if err != nil {
		return err
	}
	*x = *updated
	return nil
}

// WriteJPEG writes the JPEG stream jpegData to w with this Exif block in
// place of any Exif it already carries.
func (x *Exif) WriteJPEG(w io.Writer, jpegData []byte) error {
	sl, err := segments(jpegData)
	if err != nil {
		return err
	}
	if err := sl.SetExif(x.root); err != nil {
		return fmt.Errorf("failed to set exif: %w", err)
	}
	return sl.Write(w)
}
