// Package storage は入力PDFと圧縮後PDFのローカル保存先を管理します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	compressedSuffix = "_compressed.pdf"
	defaultFilename  = "document.pdf"
)

var (
	// ErrNotPDF はアップロードされたファイルがPDFでない場合に返します。
	ErrNotPDF = errors.New("uploaded file is not a PDF")
	// ErrTooLarge はアップロードサイズが上限を超えた場合に返します。
	ErrTooLarge = errors.New("uploaded file exceeds the size limit")
)

// StoredFile は保存済み入力ファイルの情報です。
type StoredFile struct {
	Path         string // 保存先パス（一意なトークン付き）
	OriginalName string // 画面表示用の元ファイル名
	Size         int64
}

// Local は入力/出力の2つの保存領域を持つローカルファイルストアです。
//
// 保存先:
//   - 入力: <inputDir>/<token>_<name>.pdf
//   - 出力: <outputDir>/<jobID>_<name>_compressed.pdf
type Local struct {
	inputDir    string
	outputDir   string
	maxFileSize int64
}

// NewLocal は保存先ディレクトリを作成して Local を返します。
func NewLocal(inputDir, outputDir string, maxFileSize int64) (*Local, error) {
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("保存先ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return &Local{
		inputDir:    inputDir,
		outputDir:   outputDir,
		maxFileSize: maxFileSize,
	}, nil
}

// InputDir は入力領域のパスを返します。
func (l *Local) InputDir() string { return l.inputDir }

// OutputDir は出力領域のパスを返します。
func (l *Local) OutputDir() string { return l.outputDir }

// OutputPath はジョブの出力先パスと表示用ファイル名を返します。
func (l *Local) OutputPath(jobID, inputName string) (path string, displayName string) {
	displayName = CompressedName(inputName)
	return filepath.Join(l.outputDir, jobID+"_"+displayName), displayName
}

// CompressedName は元ファイル名から圧縮後の表示用ファイル名を導出します。
func CompressedName(inputName string) string {
	name := SanitizeFilename(inputName)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return base + compressedSuffix
}

// Size はファイルのバイト数を返します。
func (l *Local) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// Exists はパスに通常ファイルが存在するかを返します。
func (l *Local) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Remove はファイルを削除します。存在しない場合はエラーにしません。
func (l *Local) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Purge は入力/出力の両領域にあるファイルをすべて削除します。
// 1件の失敗で中断せず、失敗はまとめて返します。
func (l *Local) Purge() error {
	var errs []error
	for _, dir := range []string{l.inputDir, l.outputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("read %s: %w", dir, err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := l.Remove(filepath.Join(dir, entry.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SaveUpload はアップロードされたPDFを入力領域に保存します。
func (l *Local) SaveUpload(ctx context.Context, file *multipart.FileHeader) (*StoredFile, error) {
	if file == nil {
		return nil, fmt.Errorf("%w: no file", ErrNotPDF)
	}
	if err := l.precheck(file.Filename, file.Size); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルを開けませんでした: %w", err)
	}
	defer src.Close()

	return l.save(file.Filename, src)
}

// ImportFile はローカルのPDFを入力領域に複製します。元ファイルには触れません。
func (l *Local) ImportFile(ctx context.Context, path string) (*StoredFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotPDF, path)
	}
	if err := l.precheck(path, info.Size()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return l.save(filepath.Base(path), src)
}

func (l *Local) precheck(name string, size int64) error {
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return fmt.Errorf("%w: %s", ErrNotPDF, name)
	}
	if l.maxFileSize > 0 && size > l.maxFileSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, l.maxFileSize)
	}
	return nil
}

func (l *Local) save(originalName string, src io.ReadSeeker) (_ *StoredFile, err error) {
	mime, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, fmt.Errorf("ファイル形式の判定に失敗しました: %w", err)
	}
	if !mime.Is("application/pdf") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotPDF, mime.String())
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ファイルの読み直しに失敗しました: %w", err)
	}

	name := SanitizeFilename(originalName)
	path := filepath.Join(l.inputDir, uuid.NewString()+"_"+name)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	written, err := io.Copy(dst, src)
	if err != nil {
		return nil, fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
	}

	return &StoredFile{Path: path, OriginalName: name, Size: written}, nil
}

// SanitizeFilename はパス要素と危険な文字を取り除いたPDFファイル名を返します。
// 日本語などの文字は残し、拡張子 .pdf は必ず付けます。
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '\u3000':
			b.WriteRune('_')
		}
	}
	cleaned := strings.TrimLeft(b.String(), "._")
	switch {
	case cleaned == "", strings.EqualFold(cleaned, "pdf"):
		return defaultFilename
	case !strings.EqualFold(filepath.Ext(cleaned), ".pdf"):
		return cleaned + ".pdf"
	}
	return cleaned
}
