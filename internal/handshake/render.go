package handshake

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ErrFieldRange indicates a value that cannot be rendered in MaxDigits
// decimal digits, or a zero version.
var ErrFieldRange = errors.New("handshake field out of range")

// MaxFieldValue is the largest value MaxDigits digits can carry.
const MaxFieldValue = 9999

// Render produces the 7-bit form of a message carrying version, protocol
// and id. The output parses back to the same [Fields].
func Render(version, protocol int, id uuid.UUID) ([]byte, error) {
	if version < 1 || version > MaxFieldValue {
		return nil, fmt.Errorf("%w: version %d", ErrFieldRange, version)
	}
	if protocol < 0 || protocol > MaxFieldValue {
		return nil, fmt.Errorf("%w: protocol %d", ErrFieldRange, protocol)
	}
	out := make([]byte, 0, 2+len(Prefix)+2*MaxDigits+2+UUIDLen+2)
	out = append(out, esc, ']')
	out = append(out, string(Prefix[1:])...)
	out = strconv.AppendInt(out, int64(version), 10)
	out = append(out, ';')
	out = strconv.AppendInt(out, int64(protocol), 10)
	out = append(out, ';')
	out = append(out, id.String()...)
	out = append(out, esc, '\\')
	return out, nil
}
