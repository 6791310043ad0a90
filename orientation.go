package imdirect

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

var (
	// ErrNoOrientation is returned when no orientation is available in the Exif data
	// and none was given explicitly.
	ErrNoOrientation = errors.New("no orientation available in Exif tag or given explicitly")
	// ErrInvalidOrientation is returned for orientation values outside 1..8.
	ErrInvalidOrientation = errors.New("invalid orientation value")
)

// Orientation is an EXIF flag that specifies the transformation
// that should be applied to image to display it correctly.
type Orientation int

// Exif orientation values.
const (
	Unspecified Orientation = iota
	Normal
	FlipH
	Rotate180
	FlipV
	Transpose
	Rotate270
	Transverse
	Rotate90
)

var orientationNames = [...]string{
	Unspecified: "unspecified",
	Normal:      "normal",
	FlipH:       "flip horizontal",
	Rotate180:   "rotate 180",
	FlipV:       "flip vertical",
	Transpose:   "transpose",
	Rotate270:   "rotate 270",
	Transverse:  "transverse",
	Rotate90:    "rotate 90",
}

func (o Orientation) String() string {
	if o < 0 || int(o) >= len(orientationNames) {
		return fmt.Sprintf("orientation(%d)", int(o))
	}
	return orientationNames[o]
}

// Valid reports whether o is one of the eight Exif orientation codes.
func (o Orientation) Valid() bool {
	return o >= Normal && o <= Rotate90
}

// SwapsDimensions reports whether fixing o exchanges the width and height of the image.
func (o Orientation) SwapsDimensions() bool {
	return o >= Transpose && o <= Rotate90
}

// Transform describes how to bring an image upright: an optional left-right
// mirror applied first, then a counter-clockwise rotation in degrees.
// The table follows the Exif definition, so Transpose (5) mirrors then turns
// 90 degrees and Transverse (7) mirrors then turns 270 degrees.
type Transform struct {
	Mirror bool
	Rotate int
}

var transforms = [...]Transform{
	Normal:     {false, 0},
	FlipH:      {true, 0},
	Rotate180:  {false, 180},
	FlipV:      {true, 180},
	Transpose:  {true, 90},
	Rotate270:  {false, 270},
	Transverse: {true, 270},
	Rotate90:   {false, 90},
}

// Transform returns the transform that fixes o.
func (o Orientation) Transform() (Transform, error) {
	if o == Unspecified {
		return Transform{}, ErrNoOrientation
	}
	if !o.Valid() {
		return Transform{}, fmt.Errorf("%w: %d", ErrInvalidOrientation, int(o))
	}
	return transforms[o], nil
}

// Apply applies t to img and returns the transformed image.
func (t Transform) Apply(img image.Image) image.Image {
	if t.Mirror {
		switch t.Rotate {
		case 0:
			return imaging.FlipH(img)
		case 90:
			return imaging.Transpose(img)
		case 180:
			return imaging.FlipV(img)
		case 270:
			return imaging.Transverse(img)
		}
		img = imaging.FlipH(img)
	}
	switch t.Rotate {
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	}
	return img
}

// Rotate transforms img according to the orientation o so that it displays upright.
// Normal returns img untouched.
func Rotate(img image.Image, o Orientation) (image.Image, error) {
	t, err := o.Transform()
	if err != nil {
		return nil, err
	}
	return t.Apply(img), nil
}

// AutoRotate rotates m according to o. If o is Unspecified, the orientation is
// taken from the Exif data of m.
func AutoRotate(m *Image, o Orientation) (image.Image, error) {
	if o == Unspecified && m.Exif != nil {
		o = m.Exif.Orientation()
	}
	return Rotate(m.Image, o)
}
