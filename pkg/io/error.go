package io

import "fmt"

// InsufficientBufferError tells the caller that the buffer provided is not sufficient/big
// enough to hold the whole data/sample.
type InsufficientBufferError struct {
	RequiredSize int
	ActualSize   int
}

func (e *InsufficientBufferError) Error() string {
	return fmt.Sprintf("provided buffer of length %d doesn't meet the size requirement of length, %d", e.ActualSize, e.RequiredSize)
}

// CheckSize returns an InsufficientBufferError when buf is shorter than required.
func CheckSize(buf []byte, required int) error {
	if len(buf) < required {
		return &InsufficientBufferError{RequiredSize: required, ActualSize: len(buf)}
	}
	return nil
}
