package igm

import (
	"errors"
	"fmt"
)

var (
	ErrBadMagic           = errors.New("igm: bad magic")
	ErrUnsupportedVersion = errors.New("igm: unsupported version")
	ErrNotWorld           = errors.New("igm: root element is not <world>")
	ErrCellOutOfBounds    = errors.New("igm: cell outside world bounds")
	ErrTooLarge           = errors.New("igm: value does not fit the binary format")
	ErrNegativeCell       = errors.New("igm: binary cells need a non-negative x")
)

// FormatError describes a problem in an input document. Line and Column are
// 1-based and zero when unknown (binary input).
type FormatError struct {
	Line   int
	Column int
	Offset int64
	Err    error
}

func (e *FormatError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("igm: line %d, column %d: %v", e.Line, e.Column, e.Err)
	case e.Offset > 0:
		return fmt.Sprintf("igm: offset %d: %v", e.Offset, e.Err)
	default:
		return fmt.Sprintf("igm: %v", e.Err)
	}
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
