package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

const (
	docxDefaultPath  = "word/document.xml"
	contentTypesPath = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	pptxSlidePrefix  = "ppt/slides/slide"
	openDocContent   = "content.xml"
)

var (
	wordText  = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	slideText = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	// text:p, text:span and text:h in document order; nested runs are matched innermost.
	openDocText   = regexp.MustCompile(`<text:(?:p|span|h)\b[^>]*>([^<]*)</text:(?:p|span|h)>`)
	overrideRe    = regexp.MustCompile(`<Override\b[^>]*>`)
	partNameAttr  = regexp.MustCompile(`PartName="([^"]+)"`)
	contentTypeRe = regexp.MustCompile(`ContentType="([^"]+)"`)
)

func openZip(format string, content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

// readEntry returns the bytes of the named entry, or nil when it is absent.
func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// joinMatches appends the first capture group of every match of re in xml to b.
func joinMatches(b *strings.Builder, re *regexp.Regexp, xml []byte) {
	for _, m := range re.FindAllSubmatch(xml, -1) {
		text := strings.TrimSpace(string(m[1]))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}

// docxMainPart finds the main document part named in [Content_Types].xml, in either
// attribute order.
func docxMainPart(zr *zip.Reader) string {
	types, err := readEntry(zr, contentTypesPath)
	if err != nil || types == nil {
		return ""
	}
	for _, tag := range overrideRe.FindAll(types, -1) {
		ct := contentTypeRe.FindSubmatch(tag)
		if ct == nil || string(ct[1]) != docxMainType {
			continue
		}
		if name := partNameAttr.FindSubmatch(tag); name != nil {
			return strings.TrimPrefix(string(name[1]), "/")
		}
	}
	return ""
}

// extractDOCX reads every <w:t> run of the main document part. Paragraph tags with
// attributes are common in real files, so runs are matched rather than paragraphs.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip("DOCX", content)
	if err != nil {
		return "", err
	}
	part := docxMainPart(zr)
	if part == "" {
		part = docxDefaultPath
	}
	xml, err := readEntry(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if xml == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}
	var b strings.Builder
	joinMatches(&b, wordText, xml)
	return b.String(), nil
}

// extractPPTX reads the <a:t> runs of every slide, in slide file order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip("PPTX", content)
	if err != nil {
		return "", err
	}
	var slides []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, pptxSlidePrefix) && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f.Name)
		}
	}
	sort.Strings(slides)
	var b strings.Builder
	for _, name := range slides {
		xml, err := readEntry(zr, name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		joinMatches(&b, slideText, xml)
	}
	return b.String(), nil
}

func extractOpenDocument(format string, content []byte) (string, error) {
	zr, err := openZip(format, content)
	if err != nil {
		return "", err
	}
	xml, err := readEntry(zr, openDocContent)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	if xml == nil {
		return "", fmt.Errorf("extract %s: %s not found", format, openDocContent)
	}
	var b strings.Builder
	joinMatches(&b, openDocText, xml)
	return b.String(), nil
}

func extractODP(content []byte) (string, error) { return extractOpenDocument("ODP", content) }
func extractODS(content []byte) (string, error) { return extractOpenDocument("ODS", content) }
