package sharepoint

import (
	"errors"
	"fmt"
)

// ErrItemNotFound is the sentinel wrapped by ItemNotFoundError.
// Use errors.Is(err, sharepoint.ErrItemNotFound) to check.
var ErrItemNotFound = errors.New("sharepoint: item not found")

// ErrInvalidSource is returned by UploadFile when the source is neither a
// file path, a byte slice, a buffer, nor a reader. The check happens before
// any network call.
var ErrInvalidSource = errors.New("sharepoint: upload source must be a file path, []byte, *bytes.Buffer, or io.Reader")

// ErrMissingFileName is returned by UploadFile when no target name is given
// and none can be derived because the source is not a path.
var ErrMissingFileName = errors.New("sharepoint: file name required when upload source is not a path")

// ItemNotFoundError reports that no item with the given ID exists in the
// named list. It wraps ErrItemNotFound.
type ItemNotFoundError struct {
	ListTitle string
	ItemID    int
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("sharepoint: item %d does not exist in list %q", e.ItemID, e.ListTitle)
}

func (e *ItemNotFoundError) Unwrap() error {
	return ErrItemNotFound
}
