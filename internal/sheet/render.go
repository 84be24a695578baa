package sheet

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/rotisserie/eris"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Renderer turns a document into an image for the vision capability.
type Renderer interface {
	Render(doc *Document) ([]byte, error)
}

const (
	cellWidth   = 100
	cellHeight  = 25
	cellPadding = 5
	maxRows     = 50
	maxCols     = 20
	maxChars    = 12
)

// GridRenderer draws the sheet as a bordered grid of cell text, enough for
// the vision model to read visible values. Zero value is ready to use.
type GridRenderer struct{}

// Render produces a PNG of up to the first 50 rows x 20 columns.
func (GridRenderer) Render(doc *Document) ([]byte, error) {
	rows := doc.Rows
	if rows > maxRows {
		rows = maxRows
	}
	cols := doc.Cols
	if cols > maxCols {
		cols = maxCols
	}
	if rows == 0 || cols == 0 {
		return nil, eris.New("render: empty document")
	}

	img := image.NewRGBA(image.Rect(0, 0, cols*cellWidth, rows*cellHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	border := color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	face := basicfont.Face7x13

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x := c * cellWidth
			y := r * cellHeight
			drawBorder(img, x, y, cellWidth, cellHeight, border)

			text := truncateLabel(doc.Text(r+1, c+1))
			if text == "" {
				continue
			}
			d := font.Drawer{
				Dst:  img,
				Src:  image.Black,
				Face: face,
				Dot: fixed.P(
					x+cellPadding,
					y+cellPadding+face.Metrics().Ascent.Ceil(),
				),
			}
			d.DrawString(text)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, eris.Wrap(err, "render: encode png")
	}
	return buf.Bytes(), nil
}

// truncateLabel shortens cell text to maxChars runes so multi-byte text is
// never cut mid-character.
func truncateLabel(text string) string {
	runes := []rune(text)
	if len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return text
}

func drawBorder(img *image.RGBA, x, y, w, h int, c color.Color) {
	for i := 0; i < w; i++ {
		img.Set(x+i, y, c)
		img.Set(x+i, y+h-1, c)
	}
	for i := 0; i < h; i++ {
		img.Set(x, y+i, c)
		img.Set(x+w-1, y+i, c)
	}
}
