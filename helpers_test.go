package imdirect

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"slices"
	"testing"

	"github.com/disintegration/imaging"
)

const (
	typeShort    uint16 = 3
	typeLong     uint16 = 4
	typeRational uint16 = 5

	tagThumbnailOffset uint16 = 0x0201
	tagThumbnailLength uint16 = 0x0202

	blockSize = 16
)

var le = binary.LittleEndian

type testTag struct {
	id, typ uint16
	count   uint32
	value   []byte
}

func shortTag(id uint16, v ...uint16) testTag {
	b := make([]byte, 2*len(v))
	for i, n := range v {
		le.PutUint16(b[2*i:], n)
	}
	return testTag{id, typeShort, uint32(len(v)), b}
}

func longTag(id uint16, v ...uint32) testTag {
	b := make([]byte, 4*len(v))
	for i, n := range v {
		le.PutUint32(b[4*i:], n)
	}
	return testTag{id, typeLong, uint32(len(v)), b}
}

func rationalTag(id uint16, num, den uint32) testTag {
	b := make([]byte, 8)
	le.PutUint32(b, num)
	le.PutUint32(b[4:], den)
	return testTag{id, typeRational, 1, b}
}

func ifdSize(tags []testTag) uint32 {
	n := 2 + 12*len(tags) + 4
	for _, t := range tags {
		if len(t.value) > 4 {
			n += len(t.value) + len(t.value)%2
		}
	}
	return uint32(n)
}

func writeIFD(buf *bytes.Buffer, tags []testTag, offset, next uint32) {
	slices.SortFunc(tags, func(a, b testTag) int { return int(a.id) - int(b.id) })
	binary.Write(buf, le, uint16(len(tags)))
	data := offset + uint32(2+12*len(tags)+4)
	var extra bytes.Buffer
	for _, t := range tags {
		binary.Write(buf, le, t.id)
		binary.Write(buf, le, t.typ)
		binary.Write(buf, le, t.count)
		if len(t.value) <= 4 {
			v := make([]byte, 4)
			copy(v, t.value)
			buf.Write(v)
		} else {
			binary.Write(buf, le, data+uint32(extra.Len()))
			extra.Write(t.value)
			if len(t.value)%2 == 1 {
				extra.WriteByte(0)
			}
		}
	}
	binary.Write(buf, le, next)
	buf.Write(extra.Bytes())
}

// exifFixture describes a little-endian Exif block.
type exifFixture struct {
	ifd0, exif, ifd1 []testTag
	thumbnail        []byte
}

func (f exifFixture) build() []byte {
	ifd0, exifIFD, ifd1 := slices.Clone(f.ifd0), slices.Clone(f.exif), slices.Clone(f.ifd1)
	if len(exifIFD) > 0 {
		ifd0 = append(ifd0, longTag(tagExifIFDPointer, 0))
	}
	if f.thumbnail != nil {
		ifd1 = append(ifd1, longTag(tagThumbnailOffset, 0), longTag(tagThumbnailLength, uint32(len(f.thumbnail))))
	}

	offIFD0 := uint32(8)
	offExif := offIFD0 + ifdSize(ifd0)
	offIFD1 := offExif
	if len(exifIFD) > 0 {
		offIFD1 += ifdSize(exifIFD)
	}
	offThumbnail := offIFD1 + ifdSize(ifd1)

	for i := range ifd0 {
		if ifd0[i].id == tagExifIFDPointer {
			ifd0[i] = longTag(tagExifIFDPointer, offExif)
		}
	}
	for i := range ifd1 {
		if ifd1[i].id == tagThumbnailOffset {
			ifd1[i] = longTag(tagThumbnailOffset, offThumbnail)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, offIFD0)
	var next uint32
	if len(ifd1) > 0 {
		next = offIFD1
	}
	writeIFD(&buf, ifd0, offIFD0, next)
	if len(exifIFD) > 0 {
		writeIFD(&buf, exifIFD, offExif, 0)
	}
	if len(ifd1) > 0 {
		writeIFD(&buf, ifd1, offIFD1, 0)
		buf.Write(f.thumbnail)
	}
	return buf.Bytes()
}

// withExif inserts raw as an APP1 segment right after the SOI marker of a JPEG stream.
func withExif(jpegData, raw []byte) []byte {
	segment := append([]byte("Exif\x00\x00"), raw...)
	size := len(segment) + 2
	out := []byte{0xff, 0xd8, 0xff, 0xe1, byte(size >> 8), byte(size)}
	out = append(out, segment...)
	return append(out, jpegData[2:]...)
}

var palette = [][]color.NRGBA{
	{{0xff, 0, 0, 0xff}, {0, 0xff, 0, 0xff}, {0, 0, 0xff, 0xff}},
	{{0xff, 0xff, 0, 0xff}, {0xff, 0xff, 0xff, 0xff}, {0, 0, 0, 0xff}},
}

// pattern returns a 48x32 upright image of six solid blocks.
func pattern() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 3*blockSize, 2*blockSize))
	for y := range img.Bounds().Dy() {
		for x := range img.Bounds().Dx() {
			img.SetNRGBA(x, y, palette[y/blockSize][x/blockSize])
		}
	}
	return img
}

// stored returns the image as a camera with orientation o would have stored upright.
func stored(upright image.Image, o Orientation) image.Image {
	switch o {
	case FlipH:
		return imaging.FlipH(upright)
	case Rotate180:
		return imaging.Rotate180(upright)
	case FlipV:
		return imaging.FlipV(upright)
	case Transpose:
		return imaging.Transpose(upright)
	case Rotate270:
		return imaging.Rotate90(upright)
	case Transverse:
		return imaging.Transverse(upright)
	case Rotate90:
		return imaging.Rotate270(upright)
	}
	return upright
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// cameraJPEG returns a JPEG file holding the pattern stored with orientation o,
// carrying dimension tags, resolution tags and a thumbnail that all describe
// the stored image.
func cameraJPEG(t *testing.T, o Orientation) []byte {
	t.Helper()
	img := stored(pattern(), o)
	w, h := uint32(img.Bounds().Dx()), uint32(img.Bounds().Dy())
	f := exifFixture{
		ifd0: []testTag{
			longTag(TagImageWidth, w),
			shortTag(TagImageLength, uint16(h)),
			rationalTag(TagXResolution, 72, 1),
			rationalTag(TagYResolution, 300, 1),
		},
		exif: []testTag{
			longTag(TagPixelXDimension, w),
			longTag(TagPixelYDimension, h),
		},
		thumbnail: encodeJPEG(t, img),
	}
	if o != Unspecified {
		f.ifd0 = append(f.ifd0, shortTag(TagOrientation, uint16(o)))
		f.ifd1 = append(f.ifd1, shortTag(TagOrientation, uint16(o)))
	}
	return withExif(encodeJPEG(t, img), f.build())
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// checkPattern compares the blocks of img with the upright pattern, allowing
// for lossy compression.
func checkPattern(t *testing.T, img image.Image) {
	t.Helper()
	b := img.Bounds()
	if b.Dx() != 3*blockSize || b.Dy() != 2*blockSize {
		t.Fatalf("wrong image size: want 48x32, got %dx%d", b.Dx(), b.Dy())
	}
	for by, row := range palette {
		for bx, want := range row {
			got := color.NRGBAModel.Convert(img.At(b.Min.X+bx*blockSize+blockSize/2, b.Min.Y+by*blockSize+blockSize/2)).(color.NRGBA)
			if absDiff(got.R, want.R) > 16 || absDiff(got.G, want.G) > 16 || absDiff(got.B, want.B) > 16 {
				t.Fatalf("block (%d, %d) has wrong color: want %v, got %v", bx, by, want, got)
			}
		}
	}
}

func compare(t *testing.T, img0, img1 image.Image) {
	t.Helper()
	b0 := img0.Bounds()
	b1 := img1.Bounds()
	if b0.Dx() != b1.Dx() || b0.Dy() != b1.Dy() {
		t.Fatalf("wrong image size: want %s, got %s", b0, b1)
	}
	x1 := b1.Min.X - b0.Min.X
	y1 := b1.Min.Y - b0.Min.Y
	for y := b0.Min.Y; y < b0.Max.Y; y++ {
		for x := b0.Min.X; x < b0.Max.X; x++ {
			c0 := img0.At(x, y)
			c1 := img1.At(x+x1, y+y1)
			r0, g0, b0, a0 := c0.RGBA()
			r1, g1, b1, a1 := c1.RGBA()
			if r0 != r1 || g0 != g1 || b0 != b1 || a0 != a1 {
				t.Fatalf("pixel at (%d, %d) has wrong color: want %v, got %v", x, y, c0, c1)
			}
		}
	}
}
