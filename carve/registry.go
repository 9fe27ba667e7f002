// Package carve locates embedded game assets in a raw memory image by
// content signature. There is no file system index in a minidump; the
// scanner walks the whole image once, matches magic-number signatures from
// a registry, sizes each candidate with the signature's extent rule, and
// resolves overlapping candidates by confidence.
package carve

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"esmdig/common"
)

// Class is the signature family of a carved file.
type Class uint8

const (
	ClassVideo Class = iota
	ClassTexture
	ClassAudio
	ClassModel
	ClassScript
	ClassCompressed
	ClassArchive
)

func (c Class) String() string {
	switch c {
	case ClassVideo:
		return "video"
	case ClassTexture:
		return "texture"
	case ClassAudio:
		return "audio"
	case ClassModel:
		return "model"
	case ClassScript:
		return "script"
	case ClassCompressed:
		return "compressed"
	case ClassArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// ParseClass parses a class name as used in registry files and CLI filters.
func ParseClass(name string) (Class, error) {
	switch name {
	case "video":
		return ClassVideo, nil
	case "texture":
		return ClassTexture, nil
	case "audio":
		return ClassAudio, nil
	case "model":
		return ClassModel, nil
	case "script":
		return ClassScript, nil
	case "compressed":
		return ClassCompressed, nil
	case "archive":
		return ClassArchive, nil
	default:
		return 0, fmt.Errorf("unknown classification %q", name)
	}
}

// ExtentFunc computes the byte length of a candidate whose magic matched
// at off. Returning ok=false rejects the candidate; it is never an error.
// Implementations must be bounded: no rule may scan past its own cap.
type ExtentFunc func(a *common.Arena, off int64) (length int64, ok bool)

// Signature is one registry entry: a magic byte pattern at the candidate
// start, a classification, a confidence used for overlap resolution, and
// the rule that sizes a match.
type Signature struct {
	Name       string
	Class      Class
	Magic      []byte
	Confidence float64
	Extent     ExtentFunc
}

// Registry is an ordered set of signatures. Order is fixed at build time
// so that equal-offset matches resolve deterministically.
type Registry struct {
	sigs []Signature
}

// NewRegistry returns a registry preloaded with the built-in console game
// signatures.
func NewRegistry() *Registry {
	r := &Registry{}
	r.sigs = append(r.sigs, builtinSignatures()...)
	return r
}

// Signatures returns the entries restricted to the given class filter.
// A nil filter selects everything.
func (r *Registry) Signatures(filter map[Class]bool) []Signature {
	if filter == nil {
		return r.sigs
	}
	var out []Signature
	for _, s := range r.sigs {
		if filter[s.Class] {
			out = append(out, s)
		}
	}
	return out
}

// Add appends a signature. Magic must be non-empty and names unique.
func (r *Registry) Add(s Signature) error {
	if len(s.Magic) == 0 {
		return common.NewError(common.SeverityError, common.ErrRegistryConflict,
			"registry add", fmt.Sprintf("signature %q has empty magic", s.Name))
	}
	for _, existing := range r.sigs {
		if existing.Name == s.Name {
			return common.NewError(common.SeverityError, common.ErrRegistryConflict,
				"registry add", fmt.Sprintf("signature %q already registered", s.Name))
		}
	}
	r.sigs = append(r.sigs, s)
	return nil
}

// yamlSignature is the on-disk form of a user-supplied registry entry.
// Only declarative extent rules are expressible in YAML; probe rules stay
// built-in.
type yamlSignature struct {
	Name       string  `yaml:"name"`
	Class      string  `yaml:"class"`
	Magic      string  `yaml:"magic"` // hex encoded
	Confidence float64 `yaml:"confidence"`
	Extent     struct {
		Fixed       int64 `yaml:"fixed,omitempty"`
		LengthField *struct {
			Offset int64  `yaml:"offset"`
			Width  int    `yaml:"width"`
			Endian string `yaml:"endian"`
			Adjust int64  `yaml:"adjust"`
			Max    int64  `yaml:"max"`
		} `yaml:"length_field,omitempty"`
	} `yaml:"extent"`
}

// MergeYAML adds signatures from a YAML document of the form:
//
//	signatures:
//	  - name: my-format
//	    class: archive
//	    magic: "4d595046"
//	    confidence: 0.6
//	    extent:
//	      length_field: {offset: 4, width: 4, endian: big, adjust: 8}
func (r *Registry) MergeYAML(doc []byte) error {
	var file struct {
		Signatures []yamlSignature `yaml:"signatures"`
	}
	if err := yaml.Unmarshal(doc, &file); err != nil {
		return common.NewError(common.SeverityError, common.ErrBadRegistryFile,
			"registry merge", err.Error())
	}

	for _, ys := range file.Signatures {
		class, err := ParseClass(ys.Class)
		if err != nil {
			return common.NewError(common.SeverityError, common.ErrBadRegistryFile,
				"registry merge", fmt.Sprintf("signature %q: %v", ys.Name, err))
		}
		magic, err := hex.DecodeString(ys.Magic)
		if err != nil {
			return common.NewError(common.SeverityError, common.ErrBadRegistryFile,
				"registry merge", fmt.Sprintf("signature %q: bad magic hex: %v", ys.Name, err))
		}

		var extent ExtentFunc
		switch {
		case ys.Extent.LengthField != nil:
			lf := ys.Extent.LengthField
			var order binary.ByteOrder
			switch lf.Endian {
			case "big":
				order = binary.BigEndian
			case "little":
				order = binary.LittleEndian
			default:
				return common.NewError(common.SeverityError, common.ErrBadRegistryFile,
					"registry merge", fmt.Sprintf("signature %q: endian must be big or little", ys.Name))
			}
			if lf.Width != 2 && lf.Width != 4 {
				return common.NewError(common.SeverityError, common.ErrBadRegistryFile,
					"registry merge", fmt.Sprintf("signature %q: width must be 2 or 4", ys.Name))
			}
			extent = LengthFieldExtent(lf.Offset, lf.Width, order, lf.Adjust, lf.Max)
		case ys.Extent.Fixed > 0:
			extent = FixedExtent(ys.Extent.Fixed)
		default:
			return common.NewError(common.SeverityError, common.ErrBadRegistryFile,
				"registry merge", fmt.Sprintf("signature %q: no extent rule", ys.Name))
		}

		if err := r.Add(Signature{
			Name:       ys.Name,
			Class:      class,
			Magic:      magic,
			Confidence: ys.Confidence,
			Extent:     extent,
		}); err != nil {
			return err
		}
	}
	return nil
}

// FixedExtent sizes every match at n bytes.
func FixedExtent(n int64) ExtentFunc {
	return func(a *common.Arena, off int64) (int64, bool) {
		return n, true
	}
}

// LengthFieldExtent reads a length field of the given width at fieldOff
// bytes past the match, applies adjust (header bytes not counted by the
// field), and rejects lengths that are zero, above max, or past the image.
func LengthFieldExtent(fieldOff int64, width int, order binary.ByteOrder, adjust, max int64) ExtentFunc {
	return func(a *common.Arena, off int64) (int64, bool) {
		raw, err := a.Bytes(off+fieldOff, int64(width))
		if err != nil {
			return 0, false
		}
		var field int64
		switch width {
		case 2:
			field = int64(order.Uint16(raw))
		case 4:
			field = int64(order.Uint32(raw))
		default:
			return 0, false
		}
		length := field + adjust
		if length <= 0 || (max > 0 && length > max) {
			return 0, false
		}
		return length, true
	}
}

// TerminatorExtent scans forward for the first occurrence of term and
// sizes the match up to and including it. The scan is capped; a candidate
// with no terminator inside the cap is rejected rather than left unbounded.
func TerminatorExtent(term byte, scanCap int64) ExtentFunc {
	return func(a *common.Arena, off int64) (int64, bool) {
		limit := scanCap
		if remain := a.Size() - off; remain < limit {
			limit = remain
		}
		buf := make([]byte, 4096)
		for pos := int64(0); pos < limit; {
			want := int64(len(buf))
			if limit-pos < want {
				want = limit - pos
			}
			n, err := a.ReadInto(off+pos, buf[:want])
			if n == 0 || err != nil {
				return 0, false
			}
			for i := 0; i < n; i++ {
				if buf[i] == term {
					return pos + int64(i) + 1, true
				}
			}
			pos += int64(n)
		}
		return 0, false
	}
}
