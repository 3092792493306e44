package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
)

// handleUpload streams the "file" part to a temp file, enforcing the size
// limit while reading, then hands the bytes to the task service.
func (s *Server) handleUpload(c *gin.Context) {
	r := c.Request
	r.Body = http.MaxBytesReader(c.Writer, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		s.fail(c, apperr.Validation("file", "expecting multipart form"))
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		s.fail(c, apperr.Validation("file", "missing file part"))
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()
	if tmp.contentType != "application/pdf" {
		s.fail(c, apperr.Validation("file", "only PDF files supported"))
		return
	}
	data, err := io.ReadAll(tmp.f)
	if err != nil {
		s.fail(c, fmt.Errorf("read temp file: %w", err))
		return
	}
	file, err := s.deps.Tasks.UploadFile(r.Context(), identity(c).UserID, c.Param("id"), tmp.filename, data)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "vaultsign-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				return discard(apperr.Validation("file", "file exceeds limit (%d bytes)", s.cfg.MaxFileSize))
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return discard(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			var tooLarge *http.MaxBytesError
			if errors.As(readErr, &tooLarge) {
				return discard(apperr.Validation("file", "file exceeds limit (%d bytes)", s.cfg.MaxFileSize))
			}
			return discard(apperr.Validation("file", "read file: %v", readErr))
		}
	}
	if written == 0 {
		return discard(apperr.Validation("file", "empty file"))
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return discard(fmt.Errorf("rewind temp file: %w", err))
	}
	filename := filepath.Base(part.FileName())
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = "upload.pdf"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}
