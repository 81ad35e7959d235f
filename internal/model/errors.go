package model

import "errors"

// DataFormatError reports a malformed or out-of-order candle record.
// The record is dropped; the stream it came from keeps going.
type DataFormatError struct {
	Field  string
	Reason string
}

func (e *DataFormatError) Error() string {
	return "data format: " + e.Field + ": " + e.Reason
}

// UnknownIndicatorError is returned when an indicator name is not supported.
type UnknownIndicatorError struct {
	Name string
}

func (e *UnknownIndicatorError) Error() string {
	return "unknown indicator: " + e.Name
}

// ErrInsufficientHistory marks an indicator window that is not yet filled.
// Point values carry it as Ready=false; it is only returned as an error when
// there is no history at all.
var ErrInsufficientHistory = errors.New("insufficient history")

// IsDataFormat reports whether err is a *DataFormatError.
func IsDataFormat(err error) bool {
	var dfe *DataFormatError
	return errors.As(err, &dfe)
}
