package region

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const commandPrefix = "region "

// Errors returned by ParseCommand.
var (
	ErrUnknownCommand   = errors.New("region: unknown command")
	ErrMalformedCommand = errors.New("region: malformed command")
	ErrRowTooLarge      = errors.New("region: row too large")
)

// Request asks for height rows of width bytes each, starting at Offset and
// Stride bytes apart.
type Request struct {
	Token  int64
	Offset int64
	Width  int64
	Height int64
	Stride int64
}

// RowOffset returns the absolute offset of row r.
func (r *Request) RowOffset(row int64) int64 {
	return r.Offset + row*r.Stride
}

// ParseCommand parses "region <token>,<offset>,<width>,<height>,<stride>".
// Every field must be a plain non-negative decimal number. Rows wider than
// maxRow are rejected.
func ParseCommand(s string, maxRow int64) (*Request, error) {
	if !strings.HasPrefix(s, commandPrefix) {
		return nil, ErrUnknownCommand
	}
	fields := strings.Split(s[len(commandPrefix):], ",")
	if len(fields) != 5 {
		return nil, errors.Wrapf(ErrMalformedCommand, "expected 5 fields, got %d", len(fields))
	}

	var values [5]int64
	for i, f := range fields {
		bits := 32
		if i < 2 {
			// token and offset
			bits = 64
		}
		v, err := parseField(f, bits)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedCommand, "field %d: %v", i, err)
		}
		values[i] = v
	}
	req := &Request{
		Token:  values[0],
		Offset: values[1],
		Width:  values[2],
		Height: values[3],
		Stride: values[4],
	}

	if req.Width > maxRow {
		return nil, errors.Wrapf(ErrRowTooLarge, "width %d exceeds %d", req.Width, maxRow)
	}
	if req.Height > 0 {
		// Width and Stride are below 2^31, so this product cannot overflow.
		last := (req.Height - 1) * req.Stride
		if req.Offset > math.MaxInt64-last-req.Width {
			return nil, errors.Wrap(ErrMalformedCommand, "region extends past the largest offset")
		}
	}
	return req, nil
}

func parseField(f string, bits int) (int64, error) {
	if f == "" {
		return 0, fmt.Errorf("empty")
	}
	for i := 0; i < len(f); i++ {
		if f[i] < '0' || f[i] > '9' {
			return 0, fmt.Errorf("%q is not a non-negative decimal number", f)
		}
	}
	v, err := strconv.ParseInt(f, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%q is out of range", f)
	}
	return v, nil
}

func updateMessage(offset int64) []byte {
	return []byte(fmt.Sprintf(`{ type: "update", offset: %d }`, offset))
}

func doneMessage(token int64) []byte {
	return []byte(fmt.Sprintf(`{ type: "update_done", token: %d }`, token))
}
