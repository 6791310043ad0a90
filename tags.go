package imdirect

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"sync"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	exiftiff "github.com/rwcarlsen/goexif/tiff"
)

// standardTags is the go-exif tag table with TileWidth and TileLength
// accepting LONG as well as SHORT, as TIFF allows.
var standardTags = sync.OnceValues(newTagIndex)

func newTagIndex() (*exif.TagIndex, error) {
	ti := exif.NewTagIndex()
	if err := exif.LoadStandardTags(ti); err != nil {
		return nil, err
	}
	for _, id := range []uint16{TagTileWidth, TagTileLength} {
		it, err := ti.Get(exifcommon.IfdStandardIfdIdentity, id)
		if err != nil {
			return nil, err
		}
		widen(it, exifcommon.TypeShort, exifcommon.TypeLong)
	}
	return ti, nil
}

func widen(it *exif.IndexedTag, types ...exifcommon.TagTypePrimitive) {
	for _, t := range types {
		if !it.DoesSupportType(t) {
			it.SupportedTypes = append(it.SupportedTypes, t)
		}
	}
}

// pointer tags of the child directories walked by rawTags.
var childIFDs = map[*exifcommon.IfdIdentity]map[uint16]*exifcommon.IfdIdentity{
	exifcommon.IfdStandardIfdIdentity: {
		tagExifIFDPointer: exifcommon.IfdExifStandardIfdIdentity,
		0x8825:            exifcommon.IfdGpsInfoStandardIfdIdentity,
	},
	exifcommon.IfdExifStandardIfdIdentity: {
		0xa005: exifcommon.IfdExifIopStandardIfdIdentity,
	},
}

type rawTag struct {
	ifd *exifcommon.IfdIdentity
	id  uint16
	typ exifcommon.TagTypePrimitive
}

// keepable reports whether go-exif can carry the tag through an encode once
// it is indexed. UNDEFINED values need a codec registered per tag.
func (t rawTag) keepable() bool {
	return t.typ.IsValid() && t.typ != exifcommon.TypeUndefined
}

func (t rawTag) admitted(ti *exif.TagIndex) bool {
	it, err := ti.Get(t.ifd, t.id)
	return err == nil && it.DoesSupportType(t.typ)
}

// rawTags lists the tags stored in raw as they are written, without any tag
// table. It returns nil if the block cannot be walked.
func rawTags(raw []byte) []rawTag {
	t, err := exiftiff.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	var tags []rawTag
	var walk func(ii *exifcommon.IfdIdentity, d *exiftiff.Dir)
	walk = func(ii *exifcommon.IfdIdentity, d *exiftiff.Dir) {
		for _, tag := range d.Tags {
			if child, ok := childIFDs[ii][tag.Id]; ok {
				offset, err := tag.Int64(0)
				if err != nil {
					continue
				}
				r := bytes.NewReader(raw)
				if _, err := r.Seek(offset, io.SeekStart); err != nil {
					continue
				}
				if dir, _, err := exiftiff.DecodeDir(r, t.Order); err == nil {
					walk(child, dir)
				}
				continue
			}
			tags = append(tags, rawTag{ii, tag.Id, exifcommon.TagTypePrimitive(tag.Type)})
		}
	}
	for _, d := range t.Dirs {
		walk(exifcommon.IfdStandardIfdIdentity, d)
	}
	return tags
}

// tagIndex returns a tag table under which every keepable tag of raw is
// parsed with the type it is stored as. Private tags and standard tags
// stored with an unusual type would otherwise be dropped by go-exif.
func tagIndex(raw []byte) (*exif.TagIndex, error) {
	ti, err := standardTags()
	if err != nil {
		return nil, err
	}
	tags := rawTags(raw)
	if !slices.ContainsFunc(tags, func(t rawTag) bool { return t.keepable() && !t.admitted(ti) }) {
		return ti, nil
	}

	if ti, err = newTagIndex(); err != nil {
		return nil, err
	}
	for _, t := range tags {
		if !t.keepable() || t.admitted(ti) {
			continue
		}
		if it, err := ti.Get(t.ifd, t.id); err == nil {
			widen(it, t.typ)
			continue
		}
		if err := ti.Add(&exif.IndexedTag{
			Id:             t.id,
			Name:           fmt.Sprintf("Tag%#04x", t.id),
			IfdPath:        t.ifd.UnindexedString(),
			SupportedTypes: []exifcommon.TagTypePrimitive{t.typ},
		}); err != nil {
			return nil, err
		}
	}
	return ti, nil
}
