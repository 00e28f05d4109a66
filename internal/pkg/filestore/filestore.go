package filestore

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BiodataFolder 是简历文件所在的子目录，也是唯一对外提供下载的目录。
const BiodataFolder = "biodata"

var (
	ErrUnsupportedType = errors.New("only PDF and Word documents are allowed")
	ErrTooLarge        = errors.New("file too large")
	ErrEmpty           = errors.New("file is empty")
	ErrNotFound        = errors.New("file not found")
	ErrInvalidPath     = errors.New("invalid file path")
)

// docType 描述一种允许的简历格式：声明的 MIME 类型与内容校验。
type docType struct {
	mime  string
	check func(data []byte) bool
}

var allowedTypes = map[string]docType{
	".pdf":  {mime: "application/pdf", check: isPDF},
	".doc":  {mime: "application/msword", check: isOLE},
	".docx": {mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", check: isWordZip},
}

var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Store 把上传文件保存在本地磁盘 root/<folder>/ 下。
type Store struct {
	root     string
	maxBytes int64
	folders  map[string]bool
	now      func() time.Time
}

// New 创建文件存储。maxBytes 不大于 0 时使用 5 MiB。
func New(root string, maxBytes int64) *Store {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &Store{
		root:     root,
		maxBytes: maxBytes,
		folders:  map[string]bool{BiodataFolder: true},
		now:      time.Now,
	}
}

// MaxBytes 返回单个文件的大小上限。
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// SaveBiodata 校验并保存一份简历文件，返回可供下载的路径 /uploads/biodata/<name>。
//
// 扩展名、客户端声明的 Content-Type（为空时不校验）与文件内容三者必须一致。
func (s *Store) SaveBiodata(originalName, declaredType string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	dt, ok := allowedTypes[ext]
	if !ok {
		return "", ErrUnsupportedType
	}
	if declared := mediaType(declaredType); declared != "" && declared != dt.mime {
		return "", ErrUnsupportedType
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if !dt.check(data) {
		return "", ErrUnsupportedType
	}

	dir := filepath.Join(s.root, BiodataFolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	name := fmt.Sprintf("biodata-%d-%s%s", s.now().UnixMilli(), uuid.NewString()[:8], ext)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return "/uploads/" + BiodataFolder + "/" + name, nil
}

// Resolve 把 /uploads/:folder/:filename 映射为磁盘路径。
//
// 只允许白名单目录和不含路径分隔符的文件名；文件不存在时返回 ErrNotFound。
func (s *Store) Resolve(folder, filename string) (string, error) {
	if !s.folders[folder] {
		return "", ErrNotFound
	}
	if filename == "" || filename == "." || filename == ".." ||
		strings.ContainsAny(filename, `/\`) || filepath.Base(filename) != filename {
		return "", ErrInvalidPath
	}

	path := filepath.Join(s.root, folder, filename)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat upload: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

func mediaType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

func isPDF(data []byte) bool {
	return mediaType(http.DetectContentType(data)) == "application/pdf"
}

// isOLE 检查旧版 Word 使用的 OLE 复合文档头。
func isOLE(data []byte) bool {
	return bytes.HasPrefix(data, oleSignature)
}

// isWordZip 要求 docx 是包含 [Content_Types].xml 与 word/ 目录的 zip 包。
func isWordZip(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	var hasTypes, hasWord bool
	for _, f := range zr.File {
		switch {
		case f.Name == "[Content_Types].xml":
			hasTypes = true
		case strings.HasPrefix(f.Name, "word/"):
			hasWord = true
		}
	}
	return hasTypes && hasWord
}
