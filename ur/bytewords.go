package ur

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

// Style selects a bytewords rendering.
type Style int

const (
	Standard Style = iota // "able acid also"
	URI                   // "able-acid-also"
	Minimal               // "aeadao"
)

const wordList = "able acid also apex aqua arch atom aunt away axis back bald barn belt beta bias " +
	"blue body brag brew bulb buzz calm cash cats chef city claw code cola cook cost crux curl cusp cyan " +
	"dark data days deli dice diet door down draw drop drum dull duty each easy echo edge epic even exam " +
	"exit eyes fact fair fern figs film fish fizz flap flew flux foxy free frog fuel fund gala game gear " +
	"gems gift girl glow good gray grim guru gush gyro half hang hard hawk heat help high hill holy hope " +
	"horn huts iced idea idle inch inky into iris iron item jade jazz join jolt jowl judo jugs jump junk " +
	"jury keep keno kept keys kick kiln king kite kiwi knob lamb lava lazy leaf legs liar limp lion list " +
	"logo loud love luau luck lung main many math maze memo menu meow mild mint miss monk nail navy need " +
	"news next noon note numb obey oboe omit onyx open oval owls paid part peck play plus poem pool pose " +
	"puff puma purr quad quiz race ramp real redo rich road rock roof ruby ruin runs rust safe saga scar " +
	"sets silk skew slot soap solo song stub surf swan taco task taxi tent tied time tiny toil tomb toys " +
	"trip tuna twin ugly undo unit urge user vast very veto vial vibe view visa void vows wall wand warm " +
	"wasp wave waxy webs what when whiz wolf work yank yawn yell yoga yurt zaps zero zest zinc zone zoom"

var (
	words       [256]string
	wordIndex   = make(map[string]byte, 256)
	minimalIdx  = make(map[string]byte, 256)
	minimalWord [256]string
)

func init() {
	for i, w := range strings.Fields(wordList) {
		words[i] = w
		wordIndex[w] = byte(i)
		m := w[:1] + w[3:]
		minimalWord[i] = m
		minimalIdx[m] = byte(i)
	}
}

func appendChecksum(data []byte) []byte {
	out := make([]byte, len(data), len(data)+4)
	copy(out, data)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(data))
}

// EncodeBytewords renders data followed by its CRC32 in the given style.
func EncodeBytewords(style Style, data []byte) string {
	full := appendChecksum(data)
	switch style {
	case Minimal:
		var b strings.Builder
		b.Grow(len(full) * 2)
		for _, c := range full {
			b.WriteString(minimalWord[c])
		}
		return b.String()
	default:
		sep := " "
		if style == URI {
			sep = "-"
		}
		parts := make([]string, len(full))
		for i, c := range full {
			parts[i] = words[c]
		}
		return strings.Join(parts, sep)
	}
}

// DecodeBytewords parses s in the given style and verifies the trailing CRC32.
func DecodeBytewords(style Style, s string) ([]byte, error) {
	s = strings.ToLower(s)
	var out []byte
	switch style {
	case Minimal:
		if len(s)%2 != 0 {
			return nil, fmt.Errorf("%w: odd minimal length %d", ErrInvalidWord, len(s))
		}
		out = make([]byte, 0, len(s)/2)
		for i := 0; i < len(s); i += 2 {
			c, ok := minimalIdx[s[i:i+2]]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrInvalidWord, s[i:i+2])
			}
			out = append(out, c)
		}
	default:
		sep := " "
		if style == URI {
			sep = "-"
		}
		for _, w := range strings.Split(s, sep) {
			c, ok := wordIndex[w]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrInvalidWord, w)
			}
			out = append(out, c)
		}
	}

	if len(out) < 5 {
		return nil, fmt.Errorf("%w: body too short", ErrInvalidChecksum)
	}
	body, sum := out[:len(out)-4], out[len(out)-4:]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(sum) {
		return nil, ErrInvalidChecksum
	}
	return body, nil
}
