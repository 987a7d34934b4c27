package sharepoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// UploadFile uploads a file into the folder at folderPath. The source may
// be a local file path (string), a []byte, a *bytes.Buffer, or an
// io.Reader; anything else is rejected with ErrInvalidSource before any
// network call. When name is empty it is derived from the source path's
// last segment; non-path sources require an explicit name. The full content
// is read into memory and sent in a single request.
func UploadFile(ctx context.Context, cc *ClientContext, folderPath string, source any, name string) error {
	var content []byte

	switch s := source.(type) {
	case string:
		data, err := os.ReadFile(s)
		if err != nil {
			return fmt.Errorf("sharepoint: reading upload source %s: %w", s, err)
		}

		content = data

		if name == "" {
			name = lastPathSegment(s)
		}
	case []byte:
		content = s
	case *bytes.Buffer:
		content = s.Bytes()
	case io.Reader:
		data, err := io.ReadAll(s)
		if err != nil {
			return fmt.Errorf("sharepoint: reading upload source: %w", err)
		}

		content = data
	default:
		return fmt.Errorf("%w (got %T)", ErrInvalidSource, source)
	}

	if name == "" {
		return ErrMissingFileName
	}

	cc.logger.Info("uploading file",
		slog.String("folder", folderPath),
		slog.String("name", name),
		slog.Int("size", len(content)),
	)

	folder := GetFolder(cc, folderPath)
	apiPath := fmt.Sprintf("%s/Files/add(url='%s',overwrite=true)", folder.apiPath(), quoteArg(name))
	headers := http.Header{"Content-Type": {"application/octet-stream"}}

	resp, err := cc.rest.DoWithHeaders(ctx, http.MethodPost, apiPath, bytes.NewReader(content), headers)
	if err != nil {
		return fmt.Errorf("sharepoint: uploading %s: %w", name, err)
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("sharepoint: draining upload response: %w", copyErr)
	}

	return nil
}

// lastPathSegment returns the portion of a path after the last slash or
// backslash, so both POSIX and Windows-style source paths derive the same
// file name.
func lastPathSegment(path string) string {
	if idx := strings.LastIndexAny(path, `/\`); idx >= 0 {
		return path[idx+1:]
	}

	return path
}
