package fs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// Default permission strings for new nodes.
const (
	DefaultFileMode    = "-rw-r--r--"
	DefaultDirMode     = "drwxr-xr-x"
	PrivateDirMode     = "drwx------"
	ExecutableFileMode = "-rwxr-xr-x"
	StickyDirMode      = "drwxrwxrwt"
)

// Mode is the decoded form of a 10-character permission string.
// Perm holds the nine rwx bits in the usual octal layout (0o755 etc).
type Mode struct {
	Dir    bool
	Perm   uint32
	Sticky bool
}

// ParseMode decodes a permission string such as "drwxr-xr-t".
func ParseMode(s string) (Mode, error) {
	if len(s) != 10 {
		return Mode{}, fmt.Errorf("%w: %q", types.ErrInvalidMode, s)
	}

	var m Mode
	switch s[0] {
	case 'd':
		m.Dir = true
	case '-':
	default:
		return Mode{}, fmt.Errorf("%w: %q", types.ErrInvalidMode, s)
	}

	letters := "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		c := s[i+1]
		bit := uint32(1) << (8 - i)
		switch {
		case c == letters[i]:
			m.Perm |= bit
		case c == '-':
		case i == 8 && c == 't':
			m.Perm |= bit
			m.Sticky = true
		case i == 8 && c == 'T':
			m.Sticky = true
		default:
			return Mode{}, fmt.Errorf("%w: %q", types.ErrInvalidMode, s)
		}
	}
	return m, nil
}

// String encodes the mode back into its 10-character form.
func (m Mode) String() string {
	var b strings.Builder
	b.Grow(10)
	if m.Dir {
		b.WriteByte('d')
	} else {
		b.WriteByte('-')
	}
	letters := "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		bit := uint32(1) << (8 - i)
		c := byte('-')
		if m.Perm&bit != 0 {
			c = letters[i]
		}
		if i == 8 && m.Sticky {
			if c == 'x' {
				c = 't'
			} else {
				c = 'T'
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Octal renders the mode as chmod-style octal, e.g. "755" or "1777".
func (m Mode) Octal() string {
	if m.Sticky {
		return fmt.Sprintf("1%03o", m.Perm)
	}
	return fmt.Sprintf("%03o", m.Perm)
}

// ApplyMode computes the new permission string for a chmod request.
// spec may be octal ("644", "1777"), a full symbolic string
// ("-rw-r--r--") or a symbolic delta ("u+x", "go-w,o+t", "a=r").
func ApplyMode(current string, kind types.NodeKind, spec string) (string, error) {
	cur, err := ParseMode(current)
	if err != nil {
		// Repair garbage stored modes instead of refusing to chmod them.
		cur = Mode{Dir: kind == types.KindDirectory}
	}
	cur.Dir = kind == types.KindDirectory

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", fmt.Errorf("%w: empty mode", types.ErrInvalidMode)
	}

	if isOctal(spec) {
		m, err := parseOctal(spec)
		if err != nil {
			return "", err
		}
		m.Dir = cur.Dir
		return m.String(), nil
	}

	if len(spec) == 10 && (spec[0] == 'd' || spec[0] == '-') {
		m, err := ParseMode(spec)
		if err != nil {
			return "", err
		}
		if m.Dir != cur.Dir {
			return "", fmt.Errorf("%w: kind marker does not match node", types.ErrInvalidMode)
		}
		return m.String(), nil
	}

	m, err := applySymbolic(cur, spec)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

func isOctal(s string) bool {
	for _, c := range s {
		if c < '0' || c > '7' {
			return false
		}
	}
	return true
}

func parseOctal(s string) (Mode, error) {
	if len(s) < 3 || len(s) > 4 {
		return Mode{}, fmt.Errorf("%w: %q", types.ErrInvalidMode, s)
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return Mode{}, fmt.Errorf("%w: %q", types.ErrInvalidMode, s)
	}
	// setuid/setgid have no slot in the string encoding and are dropped.
	return Mode{Perm: uint32(v) & 0o777, Sticky: v&0o1000 != 0}, nil
}

// applySymbolic handles comma separated clauses of the form [ugoa]*([+-=][rwxt]*)+.
func applySymbolic(m Mode, spec string) (Mode, error) {
	bad := fmt.Errorf("%w: %q", types.ErrInvalidMode, spec)

	for _, clause := range strings.Split(spec, ",") {
		i := 0
		var who uint32
		for i < len(clause) && strings.IndexByte("ugoa", clause[i]) >= 0 {
			who |= whoBits[clause[i]]
			i++
		}
		if who == 0 {
			who = 0o777
		}
		if i >= len(clause) {
			return Mode{}, bad
		}

		for i < len(clause) {
			op := clause[i]
			if strings.IndexByte("+-=", op) < 0 {
				return Mode{}, bad
			}
			i++

			var bits uint32
			sticky := false
			for i < len(clause) && strings.IndexByte("rwxt", clause[i]) >= 0 {
				if clause[i] == 't' {
					sticky = true
				} else {
					bits |= permBits[clause[i]]
				}
				i++
			}
			bits &= who

			switch op {
			case '+':
				m.Perm |= bits
				m.Sticky = m.Sticky || sticky
			case '-':
				m.Perm &^= bits
				m.Sticky = m.Sticky && !sticky
			case '=':
				m.Perm = (m.Perm &^ who) | bits
				if who&0o007 != 0 {
					m.Sticky = sticky
				}
			}
		}
	}
	return m, nil
}

var whoBits = map[byte]uint32{'u': 0o700, 'g': 0o070, 'o': 0o007, 'a': 0o777}

var permBits = map[byte]uint32{'r': 0o444, 'w': 0o222, 'x': 0o111}
