package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	odfContentPath      = "content.xml"
)

var (
	// wtTag matches <w:t>text</w:t> including attributes such as xml:space.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// wpEnd marks a paragraph boundary in OOXML bodies.
	wpEnd = regexp.MustCompile(`</w:p>`)
	// atTag matches DrawingML text runs used in slides.
	atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

	slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

	odpTextP    = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odpTextSpan = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odpTextH    = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return buf.Bytes(), nil
}

// readZipEntry returns the named entry, or nil when the archive does not contain it.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readZipFile(f)
		}
	}
	return nil, nil
}

// joinMatches writes the first capture group of every match, space separated.
func joinMatches(b *strings.Builder, parts [][]string) {
	for _, p := range parts {
		s := strings.TrimSpace(p[1])
		if s == "" {
			continue
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
}

// docxMainPath reads the main document part name from [Content_Types].xml.
func docxMainPath(zr *zip.Reader) string {
	data, err := readZipEntry(zr, contentTypesPath)
	if err != nil || data == nil {
		return docxDocumentXMLPath
	}
	s := string(data)
	if m := partNameRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	if m := partNameRe2.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	return docxDocumentXMLPath
}

// extractDOCX extracts <w:t> runs, one line per paragraph. The lu4p/cat DOCX reader only
// matches <w:p> without attributes, so real documents go through this path instead.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	docPath := docxMainPath(zr)
	docXML, err := readZipEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}
	var b strings.Builder
	for _, para := range wpEnd.Split(string(docXML), -1) {
		var line strings.Builder
		joinMatches(&line, wtTag.FindAllStringSubmatch(para, -1))
		if line.Len() == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line.String())
	}
	return b.String(), nil
}

// extractPPTX extracts slide text in slide order; each slide is reported as a page.
func extractPPTX(content []byte) (Result, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return Result{}, err
	}
	type slide struct {
		num int
		f   *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNameRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, f: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var (
		b     strings.Builder
		pages []models.PageMarker
	)
	for _, s := range slides {
		data, err := readZipFile(s.f)
		if err != nil {
			return Result{}, fmt.Errorf("extract PPTX: %w", err)
		}
		var text strings.Builder
		joinMatches(&text, atTag.FindAllStringSubmatch(string(data), -1))
		if text.Len() == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(pageSeparator)
		}
		pages = append(pages, models.PageMarker{Number: s.num, Offset: b.Len()})
		b.WriteString(text.String())
	}
	return Result{Text: b.String(), Pages: pages}, nil
}

// extractODF extracts text elements from an OpenDocument content.xml.
func extractODF(content []byte, format string, patterns ...*regexp.Regexp) (string, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return "", err
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	if data == nil {
		return "", fmt.Errorf("extract %s: %s not found", format, odfContentPath)
	}
	s := string(data)
	var b strings.Builder
	for _, re := range patterns {
		joinMatches(&b, re.FindAllStringSubmatch(s, -1))
	}
	return strings.TrimSpace(b.String()), nil
}
