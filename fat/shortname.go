package fat

import (
	"github.com/gsfs/embfs/errs"
	"golang.org/x/text/encoding/charmap"
)

// Name83 is the 11-byte on-disk short name: 8 bytes name + 3 bytes
// extension, upper-case, space-padded (spec §3.1 "DirEntry83").
type Name83 [11]byte

// CharsetDecoder is the external collaborator spec §4.2.1 delegates
// multi-byte decoding and short-name character validity to. A nil
// EncodeOptions.Charset selects DefaultCharset (charmap.ISO8859_1, which
// round-trips every byte 0-255 and is what the teacher pack's closest
// analogue -- soypat/fat's ISO-8859 name handling -- also assumes for 8.3
// names).
type CharsetDecoder interface {
	// Decode reads one code point from data and returns its rune plus the
	// number of source bytes it consumed.
	Decode(data []byte) (r rune, size int, err error)
	// IsValidShortNameByte reports whether b may appear, unescaped, in an
	// 8.3 short name.
	IsValidShortNameByte(b byte) bool
}

// defaultCharset decodes one byte at a time via ISO-8859-1, which is a
// faithful identity mapping for the 8-bit FAT short-name alphabet.
type defaultCharset struct{}

func (defaultCharset) Decode(data []byte) (rune, int, error) {
	if len(data) == 0 {
		return 0, 0, errs.ErrInvalidParameter
	}
	r := charmap.ISO8859_1.DecodeByte(data[0])
	return r, 1, nil
}

func (defaultCharset) IsValidShortNameByte(b byte) bool {
	switch {
	case b < 0x20:
		return false
	case b == ' ', b == '"', b == '*', b == '+', b == ',', b == '.',
		b == '/', b == ':', b == ';', b == '<', b == '=', b == '>',
		b == '?', b == '[', b == '\\', b == ']', b == '|':
		return false
	default:
		return true
	}
}

// DefaultCharset is the built-in CharsetDecoder used when a caller doesn't
// supply one of its own.
var DefaultCharset CharsetDecoder = defaultCharset{}

// EncodeOptions controls the legacy-compatibility knobs spec §4.2.1
// describes.
type EncodeOptions struct {
	// AcceptMultipleDots, when true, treats a second '.' as part of the
	// name instead of rejecting it (legacy compatibility per spec §4.2.1
	// rule 2).
	AcceptMultipleDots bool
	Charset            CharsetDecoder
}

// EncodeShortName converts a caller-supplied name into an 11-byte Name83,
// following spec §4.2.1's six rules in order. Grounded on the name/extension
// split and uppercasing in dargueta-disko/drivers/fat.Dirent's inverse
// (NewDirentFromRaw), worked backwards into an encoder since the teacher
// only implements decode.
func EncodeShortName(name string, opts EncodeOptions) (Name83, error) {
	charset := opts.Charset
	if charset == nil {
		charset = DefaultCharset
	}

	raw := []byte(name)
	if len(raw) == 0 || len(raw) > 13 {
		return Name83{}, errs.ErrInvalidParameter.WithMessage("name length must be 1..13 bytes")
	}

	var nameRunes, extRunes []rune
	inExtension := false
	dotsSeen := 0

	for i := 0; i < len(raw); {
		r, size, err := charset.Decode(raw[i:])
		if err != nil {
			return Name83{}, errs.ErrInvalidParameter.Wrap(err)
		}
		i += size

		if r == '.' {
			dotsSeen++
			if dotsSeen == 1 {
				inExtension = true
				continue
			}
			if !opts.AcceptMultipleDots {
				return Name83{}, errs.ErrInvalidParameter.WithMessage("multiple dots not permitted")
			}
			// Legacy mode: treat the extra dot as a literal name character.
			inExtension = false
			nameRunes = append(nameRunes, foldRune(r))
			continue
		}

		b := foldRune(r)
		if b >= 0 && b < 256 && !charset.IsValidShortNameByte(byte(b)) {
			return Name83{}, errs.ErrInvalidParameter.WithMessage("invalid short-name character")
		}

		if inExtension {
			extRunes = append(extRunes, b)
		} else {
			nameRunes = append(nameRunes, b)
		}
	}

	if len(nameRunes) < 1 || len(nameRunes) > 8 {
		return Name83{}, errs.ErrInvalidParameter.WithMessage("name portion must be 1..8 characters")
	}
	if len(extRunes) > 3 {
		return Name83{}, errs.ErrInvalidParameter.WithMessage("extension must be 0..3 characters")
	}

	var out Name83
	for i := range out {
		out[i] = ' '
	}
	for i, r := range nameRunes {
		out[i] = byte(r)
	}
	for i, r := range extRunes {
		out[8+i] = byte(r)
	}

	// Rule 5: 0xE5 as a real first byte is stored as 0x05 to disambiguate
	// from the deleted-entry marker.
	if out[0] == 0xE5 {
		out[0] = 0x05
	}

	return out, nil
}

func foldRune(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

// DecodeShortName reverses EncodeShortName's first-byte rewrite and
// trailing-space padding, producing the displayable "NAME.EXT" form.
// Grounded on dargueta-disko/drivers/fat.NewDirentFromRaw's trimming and
// 0x05/0xE5 handling.
func DecodeShortName(raw Name83) string {
	name := trimTrailingSpaces(raw[0:8])
	ext := trimTrailingSpaces(raw[8:11])

	if len(name) > 0 {
		switch name[0] {
		case 0x05:
			// Emit the raw byte 0xE5, not rune(0xE5): string(rune) UTF-8-encodes
			// anything >= 0x80 into two bytes, which would break the
			// encode(decode(x)) == x round trip this rewrite exists to support.
			name = string([]byte{0xE5}) + name[1:]
		}
	}

	if ext == "" {
		return name
	}
	return name + "." + ext
}

func trimTrailingSpaces(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}
