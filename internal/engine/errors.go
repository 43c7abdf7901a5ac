package engine

import (
	"errors"

	"github.com/kjstillabower/climate-history-service/internal/store"
)

var (
	// ErrEmptyDataset is returned when there are no measurements or stations to query.
	ErrEmptyDataset = store.ErrEmptyDataset

	// ErrValidation wraps malformed date input. It is returned before the store is touched.
	ErrValidation = errors.New("invalid query input")

	// ErrMalformedData is returned when a stored value cannot be interpreted,
	// e.g. a latest date that is not YYYY-MM-DD.
	ErrMalformedData = errors.New("malformed dataset value")
)
