// Package recipients loads campaign recipient lists from CSV files.
//
// Lists are usually exported from spreadsheets, so the parser is
// deliberately tolerant: it sniffs the delimiter, accepts several
// spellings for each well-known column, and falls back to Latin-1 when
// the file is not valid UTF-8.
package recipients

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Row is one entry from a recipient list. Email may be empty when the
// source row had content but no address; such rows are kept so the
// caller can report them as failures instead of silently dropping them.
type Row struct {
	Line        int
	Email       string
	Subject     string
	Body        string
	Attachments []string

	// Extra holds every column of the row keyed by normalized header
	// name, for placeholder substitution.
	Extra map[string]string
}

// columnAliases maps accepted header spellings to canonical fields.
var columnAliases = map[string]string{
	"recipient_email":     "email",
	"email":               "email",
	"to":                  "email",
	"subject":             "subject",
	"attachment_filename": "attachment",
	"attachment":          "attachment",
	"body_content":        "body",
	"body":                "body",
	"message":             "body",
}

// Load reads and parses a recipient list file.
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipient list: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a recipient list from r.
func Parse(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipient list: %w", err)
	}

	text := decodeText(data)

	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = sniffDelimiter(firstLine(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("recipient list is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	cols := resolveColumns(header)
	if cols.email < 0 {
		return nil, fmt.Errorf("no recipient column found (expected one of: recipient_email, email, to)")
	}

	var rows []Row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		if isBlank(record) {
			continue
		}

		line, _ := cr.FieldPos(0)
		row := Row{
			Line:  line,
			Extra: make(map[string]string, len(header)),
		}
		for j, cell := range record {
			if j < len(header) {
				row.Extra[normalizeHeader(header[j])] = strings.TrimSpace(cell)
			}
		}

		row.Email = field(record, cols.email)
		row.Subject = field(record, cols.subject)
		row.Body = field(record, cols.body)
		if cell := field(record, cols.attachment); cell != "" {
			row.Attachments = splitAttachments(cell)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

type columnIndex struct {
	email      int
	subject    int
	body       int
	attachment int
}

func resolveColumns(header []string) columnIndex {
	cols := columnIndex{email: -1, subject: -1, body: -1, attachment: -1}

	for i, h := range header {
		switch columnAliases[normalizeHeader(h)] {
		case "email":
			if cols.email < 0 {
				cols.email = i
			}
		case "subject":
			if cols.subject < 0 {
				cols.subject = i
			}
		case "body":
			if cols.body < 0 {
				cols.body = i
			}
		case "attachment":
			if cols.attachment < 0 {
				cols.attachment = i
			}
		}
	}

	return cols
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// decodeText interprets raw file bytes as UTF-8, stripping a leading
// BOM, and falls back to Latin-1 for legacy spreadsheet exports.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data)
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

// sniffDelimiter picks the delimiter that appears most often in the
// header line. Comma wins ties.
func sniffDelimiter(header string) rune {
	delim, best := ',', strings.Count(header, ",")
	if n := strings.Count(header, ";"); n > best {
		delim, best = ';', n
	}
	if n := strings.Count(header, "\t"); n > best {
		delim = '\t'
	}
	return delim
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

// splitAttachments splits an attachment cell into file names. Names
// containing spaces can be wrapped in single or double quotes.
func splitAttachments(cell string) []string {
	var (
		parts   []string
		current strings.Builder
		quote   rune
	)

	for _, r := range cell {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
		case unicode.IsSpace(r):
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
