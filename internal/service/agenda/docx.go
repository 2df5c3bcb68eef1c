package agenda

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// docxParser pulls paragraph text out of word/document.xml.
type docxParser struct{}

func (docxParser) Parse(_ context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	common := parser.GetCommonOptions(&parser.Options{}, opts...)
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	var body io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return nil, fmt.Errorf("open document part: %w", err)
			}
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("docx has no word/document.xml")
	}
	defer body.Close()

	text, err := paragraphText(body)
	if err != nil {
		return nil, err
	}
	doc := &schema.Document{Content: text, MetaData: map[string]any{}}
	for k, v := range common.ExtraMeta {
		doc.MetaData[k] = v
	}
	if common.URI != "" {
		doc.MetaData["_source"] = common.URI
	}
	return []*schema.Document{doc}, nil
}

// paragraphText joins w:t runs, one line per w:p.
func paragraphText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document part: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
