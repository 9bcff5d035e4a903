package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSegmentationFault means article segmentation could not process the input.
	ErrSegmentationFault = errors.New("segmentation fault")

	// ErrInsufficientStructure means article segmentation found too few articles.
	ErrInsufficientStructure = errors.New("insufficient article structure")

	// ErrProvider is matched by every ProviderError.
	ErrProvider = errors.New("embedding provider error")

	// ErrNotFound means no valid persisted index exists at the configured location.
	ErrNotFound = errors.New("index not found")

	// ErrConfiguration means required configuration or input is missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidK is returned for k <= 0.
	ErrInvalidK = errors.New("k must be at least 1")

	// ErrEmptyCorpus means segmentation produced nothing to index.
	ErrEmptyCorpus = errors.New("no chunks to index")
)

// ProviderError wraps a failed embedding call.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProvider) match any ProviderError.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// NewProviderError wraps err unless it already is a ProviderError.
func NewProviderError(provider, op string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
