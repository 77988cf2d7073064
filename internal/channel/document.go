package channel

import (
	"bytes"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"orderdesk/internal/util"
)

// Document is an inbound message reduced to the order text a buyer wrote.
type Document struct {
	Subject     string
	From        string
	Lines       []string
	Attachments []string
}

// Text joins the lines one per row, which the order grammar reads as separate
// segments.
func (d Document) Text() string {
	return strings.Join(d.Lines, "\n")
}

var (
	// Anything from one of these lines down is quoted history.
	replyMarkers = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^on .+ wrote:?$`),
		regexp.MustCompile(`(?i)^-+ ?original message ?-+$`),
		regexp.MustCompile(`(?i)^-+ ?forwarded message ?-+$`),
		regexp.MustCompile(`(?i)^from: .+`),
		regexp.MustCompile(`^-- ?$`),
		regexp.MustCompile(`^_{5,}$`),
	}
	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(thanks|thank you|regards|best regards|kind regards|cheers)\b`),
		regexp.MustCompile(`(?i)^sent from my`),
		regexp.MustCompile(`(?i)^(tel|phone|mob|mobile|fax)[:.\s]`),
		regexp.MustCompile(`(?i)^e-?mail[:\s]`),
		regexp.MustCompile(`(?i)^https?://`),
	}
	digitPattern  = regexp.MustCompile(`\d`)
	letterPattern = regexp.MustCompile(`[A-Za-z]`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// ReadDocument parses a raw MIME message. Order tables in the HTML part win
// over the body text; spreadsheet and pdf attachments add their rows.
func ReadDocument(raw []byte) (Document, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return Document{}, fmt.Errorf("read mime envelope: %w", err)
	}

	doc := Document{
		Subject: env.GetHeader("Subject"),
		From:    env.GetHeader("From"),
	}

	var lines []string
	if env.HTML != "" {
		lines = append(lines, htmlTableLines(env.HTML)...)
	}
	if len(lines) == 0 {
		lines = append(lines, bodyLines(env.Text)...)
	}

	for _, att := range env.Attachments {
		name := strings.TrimSpace(att.FileName)
		if name == "" {
			name = "attachment"
		}
		doc.Attachments = append(doc.Attachments, name)
		lower := strings.ToLower(name)
		switch {
		case strings.HasSuffix(lower, ".xlsx"):
			if extra, err := xlsxLines(att.Content); err == nil {
				lines = append(lines, extra...)
			}
		case strings.HasSuffix(lower, ".pdf"):
			if extra, err := pdfLines(att.Content); err == nil {
				lines = append(lines, extra...)
			}
		}
	}

	doc.Lines = dedupe(lines)
	return doc, nil
}

// SenderAddress returns the lowercased mail address of a From header, or the
// trimmed header when it does not parse.
func SenderAddress(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(from))
	}
	return strings.ToLower(addr.Address)
}

func bodyLines(text string) []string {
	var out []string
	for _, line := range splitLines(text) {
		if strings.HasPrefix(line, ">") {
			continue
		}
		if matchesAny(replyMarkers, line) {
			break
		}
		if matchesAny(noisePatterns, line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func htmlTableLines(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var out []string
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		if rows.Length() < 2 {
			return
		}
		var headers []string
		rows.First().Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			headers = append(headers, strings.ToLower(normalizeSpaces(cell.Text())))
		})
		cols := inferColumns(headers)
		if cols.name < 0 {
			return
		}
		rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
			var cells []string
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, normalizeSpaces(cell.Text()))
			})
			if line := cols.line(cells); line != "" {
				out = append(out, line)
			}
		})
	})
	return out
}

func xlsxLines(content []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		cols := columns{name: -1, qty: -1, unit: -1}
		for i, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				cells = append(cells, normalizeSpaces(c))
			}
			if len(cells) == 0 {
				continue
			}
			if i < 3 && cols.name < 0 {
				if probe := inferColumns(lowerAll(cells)); probe.name >= 0 {
					cols = probe
					continue
				}
			}
			if cols.name < 0 {
				cols = columns{name: 0, qty: 1, unit: 2}
			}
			if line := cols.line(cells); line != "" {
				out = append(out, line)
			}
		}
	}
	return out, nil
}

func pdfLines(content []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	var out []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		for _, line := range splitLines(text) {
			if digitPattern.MatchString(line) && letterPattern.MatchString(line) && !matchesAny(noisePatterns, line) {
				out = append(out, line)
			}
		}
	}
	return out, nil
}

type columns struct {
	name, qty, unit int
}

func inferColumns(headers []string) columns {
	return columns{
		name: findHeaderIndex(headers, []string{"product", "item", "description", "name", "code", "size"}),
		qty:  findHeaderIndex(headers, []string{"qty", "quantity", "cartons", "ctns", "pcs"}),
		unit: findHeaderIndex(headers, []string{"unit", "uom"}),
	}
}

// line renders one table row as "<product> <qty> <unit>". Rows without a
// product are skipped; a row without a quantity stays quote-only.
func (c columns) line(cells []string) string {
	name := pickCell(cells, c.name)
	if name == "" || (!letterPattern.MatchString(name) && !digitPattern.MatchString(name)) {
		return ""
	}
	parts := []string{name}
	parsed := util.ParseQty(pickCell(cells, c.qty))
	if parsed.Qty != nil {
		parts = append(parts, strconv.FormatFloat(*parsed.Qty, 'f', -1, 64))
		unit := pickCell(cells, c.unit)
		if unit == "" && parsed.Unit != nil {
			unit = *parsed.Unit
		}
		if unit != "" {
			parts = append(parts, unit)
		}
	}
	return strings.Join(parts, " ")
}

func findHeaderIndex(headers []string, probes []string) int {
	for _, probe := range probes {
		for i, h := range headers {
			if strings.Contains(h, probe) {
				return i
			}
		}
	}
	return -1
}

func pickCell(cells []string, idx int) string {
	if idx >= 0 && idx < len(cells) {
		return strings.TrimSpace(cells[idx])
	}
	return ""
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = normalizeSpaces(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeSpaces(input string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(input, " "))
}

func lowerAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.ToLower(c)
	}
	return out
}

func matchesAny(patterns []*regexp.Regexp, line string) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func dedupe(lines []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		key := strings.ToLower(l)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}
