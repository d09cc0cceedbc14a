package model

import "github.com/pkg/errors"

var (
	// ErrConfigMismatch reports inconsistent sizes between the configuration,
	// the supplied tables and the batch: embedding dimension, label count,
	// target width, recurrent width or a sequence shorter than the kernel.
	ErrConfigMismatch = errors.New("model: configuration mismatch")

	// ErrMissingDescription is returned when description regularization is
	// active and a positive label has no description tokens.
	ErrMissingDescription = errors.New("model: missing label description")
)

func mismatch(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfigMismatch, format, args...)
}
