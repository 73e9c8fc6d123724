package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/dataitem"
)

// MaxDownloadSize caps a single bundle download.
const MaxDownloadSize = 512 * 1024 * 1024

// archiveTypes are the accepted Content-Type values for bundles.
var archiveTypes = map[string]bool{
	"application/gzip":             true,
	"application/x-gzip":           true,
	"application/x-tar":            true,
	"application/x-gtar":           true,
	"application/x-compressed-tar": true,
	"application/tar+gzip":         true,
}

// ProgressFunc reports bytes received so far and the total, or -1 if the
// server did not declare a length.
type ProgressFunc func(received, total int64)

// Download fetches the bundle stored under id. A missing id is a not_found
// Network error so callers can suggest waiting for propagation.
func (c *Client) Download(ctx context.Context, id string, progress ProgressFunc) ([]byte, error) {
	if !dataitem.ValidID(id) {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidInput,
			fmt.Sprintf("%q is not a valid content id", id), "content ids are 43 base64url characters")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var data []byte
	err := c.policy("download").Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/"+id, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		resp, err := c.send(ctx, req)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeNotFound) {
				return apperr.Wrap(err, apperr.KindNetwork, apperr.CodeNotFound,
					fmt.Sprintf("content %s not found", id),
					"newly published content may still be propagating; wait a few minutes and retry")
			}
			return err
		}
		defer resp.Body.Close()

		if err := checkContentType(resp.Header.Get("Content-Type")); err != nil {
			return err
		}
		data, err = readWithProgress(ctx, resp, progress)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func checkContentType(header string) error {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || !archiveTypes[strings.ToLower(mediaType)] {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidBundle,
			fmt.Sprintf("content type %q is not a recognized archive type", header),
			"the content id may not point to a skill bundle")
	}
	return nil
}

func readWithProgress(ctx context.Context, resp *http.Response, progress ProgressFunc) ([]byte, error) {
	total := resp.ContentLength
	if total > MaxDownloadSize {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidBundle,
			fmt.Sprintf("bundle of %d bytes exceeds the %d byte limit", total, MaxDownloadSize), "")
	}

	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	var received int64
	chunk := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			if received > MaxDownloadSize {
				return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidBundle,
					fmt.Sprintf("bundle exceeds the %d byte limit", MaxDownloadSize), "")
			}
			if progress != nil {
				progress(received, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, classifyTransportError(ctx, readErr)
		}
	}
	return buf.Bytes(), nil
}
