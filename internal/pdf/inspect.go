package pdf

import (
	"fmt"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Inspector は pdfcpu で PDF のページ数を読み取ります。
type Inspector struct{}

// NewInspector は Inspector を返します。
func NewInspector() *Inspector {
	return &Inspector{}
}

// PageCount はファイルのページ数を返します。
func (i *Inspector) PageCount(path string) (int, error) {
	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("PDFのページ数を取得できませんでした: %w", err)
	}
	return pages, nil
}
