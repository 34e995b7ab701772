package download

import (
	"errors"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrInvalidPDF is returned when a downloaded file is not a readable PDF with
// at least one page.
var ErrInvalidPDF = errors.New("invalid PDF")

func init() {
	// Workers run unattended; keep pdfcpu from creating a config directory.
	api.DisableConfigDir()
}

// Validate opens path with pdfcpu and returns its page count.
func Validate(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: %s is empty", ErrInvalidPDF, path)
	}

	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	if ctx.PageCount < 1 {
		return 0, fmt.Errorf("%w: no pages", ErrInvalidPDF)
	}
	return ctx.PageCount, nil
}
