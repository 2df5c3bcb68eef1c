package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const (
	fontName  = "Times New Roman"
	fontSize  = 12
	titleSize = 16
)

var tableHeader = []string{"Item", "Description", "Action By"}

// generate builds a plain minutes document: title, metadata lines and a
// three column minutes table.
func generate(f documentFields) ([]byte, error) {
	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, err
	}

	addStyledRun(doc.AddParagraph(""), "Minutes of "+f.Title, true, titleSize)
	addLabelled(doc.AddParagraph(""), "Venue: ", f.Venue)
	addLabelled(doc.AddParagraph(""), "Date: ", f.Date)
	addLabelled(doc.AddParagraph(""), "Present: ", f.Present)
	doc.AddParagraph("")

	table := doc.AddTable()
	table.Style("TableGrid")
	header := table.AddRow()
	for _, h := range tableHeader {
		addStyledRun(header.AddCell().AddParagraph(""), h, true, fontSize)
	}
	for _, item := range f.Items {
		row := table.AddRow()
		addStyledRun(row.AddCell().AddParagraph(""), item.Item, false, fontSize)
		addStyledRun(row.AddCell().AddParagraph(""), item.Description, false, fontSize)
		addStyledRun(row.AddCell().AddParagraph(""), item.Remark, false, fontSize)
	}

	dir, err := os.MkdirTemp("", "minutes-export-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "minutes.docx")
	if err := doc.SaveTo(path); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	return os.ReadFile(path)
}

func addStyledRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(text).Font(fontName).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}

func addLabelled(p *docx.Paragraph, label, value string) {
	addStyledRun(p, label, true, fontSize)
	addStyledRun(p, value, false, fontSize)
}
