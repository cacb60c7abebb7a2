package http

import (
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var allowedImageExts = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"webp": true,
}

// allowedImageExt extracts and validates the lowercase extension of an
// uploaded filename.
func allowedImageExt(filename string) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	return ext, allowedImageExts[ext]
}

func uploadFilename(ext string, now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s.%s", hex.EncodeToString(id[:]), now.UTC().Format("20060102150405"), ext)
}

func (s *Server) imagesDir() string {
	return filepath.Join(s.cfg.UploadDir, "images")
}

func (s *Server) saveUpload(file multipart.File, originalName string) (string, error) {
	ext, ok := allowedImageExt(originalName)
	if !ok {
		return "", errUnsupportedFile
	}
	if err := os.MkdirAll(s.imagesDir(), 0o755); err != nil {
		return "", err
	}
	name := uploadFilename(ext, time.Now())
	dst, err := os.Create(filepath.Join(s.imagesDir(), name))
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", err
	}
	return "/api/uploads/images/" + name, nil
}

var errUnsupportedFile = fmt.Errorf("unsupported file type")

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()

	url, err := s.saveUpload(file, header.Filename)
	if err == errUnsupportedFile {
		writeError(w, http.StatusBadRequest, "unsupported_file_type")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func (s *Server) handleUploadImages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}

	urls := make([]string, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			s.serverError(w, err)
			return
		}
		url, err := s.saveUpload(file, header.Filename)
		file.Close()
		if err == errUnsupportedFile {
			writeError(w, http.StatusBadRequest, "unsupported_file_type")
			return
		}
		if err != nil {
			s.serverError(w, err)
			return
		}
		urls = append(urls, url)
	}
	writeJSON(w, http.StatusCreated, map[string][]string{"urls": urls})
}

func (s *Server) handleServeImage(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		writeError(w, http.StatusBadRequest, "invalid_filename")
		return
	}
	path := filepath.Join(s.imagesDir(), filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "file_not_found")
		return
	}
	http.ServeFile(w, r, path)
}
