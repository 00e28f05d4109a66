package api

import (
	"errors"
	"log/slog"
	"net/http"

	"callcrm/internal/pkg/filestore"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleUploadBiodata(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.files.MaxBytes()+1<<20)
	fh, err := c.FormFile("biodata")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	if fh.Size > s.files.MaxBytes() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.logger.Error("open upload failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload file"})
		return
	}
	defer f.Close()

	path, err := s.files.SaveBiodata(fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		switch {
		case errors.Is(err, filestore.ErrUnsupportedType),
			errors.Is(err, filestore.ErrTooLarge),
			errors.Is(err, filestore.ErrEmpty):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.logger.Error("save upload failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload file"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"filePath": path})
}

func (s *Server) handleServeUpload(c *gin.Context) {
	path, err := s.files.Resolve(c.Param("folder"), c.Param("filename"))
	if err != nil {
		switch {
		case errors.Is(err, filestore.ErrNotFound), errors.Is(err, filestore.ErrInvalidPath):
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		default:
			s.logger.Error("resolve upload failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
		}
		return
	}
	c.File(path)
}
