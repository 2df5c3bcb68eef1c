package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const documentPart = "word/document.xml"

var errNoMinutesRow = errors.New("template has no {{item}} table row")

// fillTemplate copies the template archive, substituting placeholders in the
// main document part. The table row holding {{item}} is repeated per minute item.
func fillTemplate(tpl []byte, f documentFields) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(tpl), int64(len(tpl)))
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	found := false
	for _, file := range zr.File {
		body, err := readEntry(file)
		if err != nil {
			return nil, err
		}
		if file.Name == documentPart {
			found = true
			filled, err := fillDocument(string(body), f)
			if err != nil {
				return nil, err
			}
			body = []byte(filled)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     file.Name,
			Method:   file.Method,
			Modified: file.Modified,
		})
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", file.Name, err)
		}
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("write %s: %w", file.Name, err)
		}
	}
	if !found {
		return nil, fmt.Errorf("template missing %s", documentPart)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close document: %w", err)
	}
	return out.Bytes(), nil
}

func readEntry(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.Name, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.Name, err)
	}
	return body, nil
}

func fillDocument(doc string, f documentFields) (string, error) {
	start, end, err := minutesRow(doc)
	if err != nil {
		return "", err
	}
	row := doc[start:end]
	var rows strings.Builder
	for _, item := range f.Items {
		rows.WriteString(replaceAll(row, map[string]string{
			"{{item}}":        item.Item,
			"{{description}}": item.Description,
			"{{remark}}":      item.Remark,
		}))
	}
	doc = doc[:start] + rows.String() + doc[end:]

	return replaceAll(doc, map[string]string{
		"{{title}}":   f.Title,
		"{{venue}}":   f.Venue,
		"{{date}}":    f.Date,
		"{{present}}": f.Present,
	}), nil
}

// minutesRow locates the <w:tr> element that contains {{item}}.
func minutesRow(doc string) (int, int, error) {
	marker := strings.Index(doc, "{{item}}")
	if marker < 0 {
		return 0, 0, errNoMinutesRow
	}
	start := lastRowOpen(doc[:marker])
	if start < 0 {
		return 0, 0, errNoMinutesRow
	}
	rel := strings.Index(doc[marker:], "</w:tr>")
	if rel < 0 {
		return 0, 0, errNoMinutesRow
	}
	return start, marker + rel + len("</w:tr>"), nil
}

func lastRowOpen(s string) int {
	for {
		i := strings.LastIndex(s, "<w:tr")
		if i < 0 {
			return -1
		}
		// skip <w:trPr> and friends
		if next := s[i+len("<w:tr"):]; next == "" || next[0] == '>' || next[0] == ' ' {
			return i
		}
		s = s[:i]
	}
}

func replaceAll(s string, values map[string]string) string {
	for placeholder, value := range values {
		s = strings.ReplaceAll(s, placeholder, escapeXML(value))
	}
	return s
}

func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
