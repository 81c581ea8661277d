package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// IsWordDocument reports whether the filename looks like a word-processor file.
func IsWordDocument(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".docx", ".doc":
		return true
	default:
		return false
	}
}

// DocxToPDF renders the paragraph text of a DOCX package into a PDF document.
// Formatting is not preserved; the output is a plain-text rendition suitable
// for review and archival. Legacy binary .doc files are not supported.
func DocxToPDF(docx []byte) ([]byte, error) {
	paragraphs, err := extractParagraphs(docx)
	if err != nil {
		return nil, err
	}
	return renderPDF(paragraphs)
}

func extractParagraphs(docx []byte) ([]string, error) {
	reader, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		return nil, fmt.Errorf("convert: not a docx package: %w", err)
	}

	var document *zip.File
	for _, f := range reader.File {
		if f.Name == "word/document.xml" {
			document = f
			break
		}
	}
	if document == nil {
		return nil, fmt.Errorf("convert: word/document.xml missing")
	}

	rc, err := document.Open()
	if err != nil {
		return nil, fmt.Errorf("convert: open document part: %w", err)
	}
	defer rc.Close() //nolint:errcheck

	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	decoder := xml.NewDecoder(rc)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("convert: parse document part: %w", err)
		}
		switch el := token.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(el)
			}
		}
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	return paragraphs, nil
}

func renderPDF(paragraphs []string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 11)

	translate := pdf.UnicodeTranslatorFromDescriptor("")
	for _, paragraph := range paragraphs {
		if strings.TrimSpace(paragraph) == "" {
			pdf.Ln(5)
			continue
		}
		pdf.MultiCell(0, 6, translate(paragraph), "", "L", false)
		pdf.Ln(2)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("convert: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
