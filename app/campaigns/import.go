package campaigns

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PipeOpsHQ/campaign-engine/qualify"
	"github.com/PipeOpsHQ/campaign-engine/state"
)

type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

type ImportInput struct {
	Data   []byte
	Format Format
	// Source is a file name used for format detection and reporting.
	Source string
}

// Mapping records which source column fed each recipient field.
type Mapping struct {
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Company  string   `json:"company,omitempty"`
	Title    string   `json:"title,omitempty"`
	Location string   `json:"location,omitempty"`
	Extra    []string `json:"extra,omitempty"`
}

type ImportResult struct {
	Source     string            `json:"source,omitempty"`
	Recipients []state.Recipient `json:"recipients"`
	Mapping    Mapping           `json:"mapping"`
	TotalRows  int               `json:"totalRows"`
	Skipped    int               `json:"skipped"`
	Duplicates int               `json:"duplicates"`
}

var headerAliases = map[string][]string{
	"email":    {"email", "e-mail", "mail", "email address", "emailaddress", "work email", "contact email"},
	"name":     {"name", "full name", "fullname", "contact", "contact name", "person"},
	"company":  {"company", "company name", "organisation", "organization", "org", "hotel", "business", "account"},
	"title":    {"title", "job title", "jobtitle", "role", "position", "function"},
	"location": {"location", "city", "address", "region", "country", "place"},
}

// ParseRecipients reads a CSV (comma or tab separated) or JSON array of
// objects and maps its columns onto recipient fields. Rows without a usable
// email are skipped and repeated addresses are dropped.
func ParseRecipients(input ImportInput) (ImportResult, error) {
	raw := bytes.TrimSpace(bytes.TrimPrefix(input.Data, []byte("\xef\xbb\xbf")))
	if len(raw) == 0 {
		return ImportResult{}, fmt.Errorf("import payload is required")
	}

	format := input.Format
	if format == FormatAuto {
		format = detectFormat(input.Source, raw)
	}

	var (
		headers []string
		rows    []map[string]string
		err     error
	)
	switch format {
	case FormatJSON:
		headers, rows, err = readJSON(raw)
	case FormatCSV:
		headers, rows, err = readCSV(raw)
	default:
		return ImportResult{}, fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return ImportResult{}, err
	}
	if len(rows) == 0 {
		return ImportResult{}, fmt.Errorf("no data found")
	}

	mapping := MapHeaders(headers)
	if mapping.Email == "" {
		return ImportResult{}, fmt.Errorf("no email column found in %v", headers)
	}

	result := ImportResult{Source: input.Source, Mapping: mapping, TotalRows: len(rows)}
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		email := strings.ToLower(strings.TrimSpace(row[mapping.Email]))
		if _, err := qualify.ParseAddress(email); err != nil {
			result.Skipped++
			continue
		}
		if _, dup := seen[email]; dup {
			result.Duplicates++
			continue
		}
		seen[email] = struct{}{}

		r := state.Recipient{
			Email:    email,
			Name:     field(row, mapping.Name),
			Company:  field(row, mapping.Company),
			Title:    field(row, mapping.Title),
			Location: field(row, mapping.Location),
		}
		for _, col := range mapping.Extra {
			v := strings.TrimSpace(row[col])
			if v == "" {
				continue
			}
			if r.Extra == nil {
				r.Extra = map[string]string{}
			}
			r.Extra[col] = v
		}
		result.Recipients = append(result.Recipients, r)
	}
	if len(result.Recipients) == 0 {
		return ImportResult{}, fmt.Errorf("no rows with a valid email address")
	}
	return result, nil
}

// MapHeaders matches column names against known aliases, earlier aliases
// first. A second pass accepts headers containing the field name itself.
// Unmatched columns become extras.
func MapHeaders(headers []string) Mapping {
	fields := []string{"email", "name", "company", "title", "location"}
	assigned := map[string]string{}
	used := map[string]bool{}

	pick := func(fieldName string, match func(h string) bool) {
		for _, h := range headers {
			if !used[h] && match(normalizeHeader(h)) {
				assigned[fieldName] = h
				used[h] = true
				return
			}
		}
	}
	for _, fieldName := range fields {
		for _, alias := range headerAliases[fieldName] {
			if assigned[fieldName] != "" {
				break
			}
			pick(fieldName, func(h string) bool { return h == alias })
		}
	}
	for _, fieldName := range fields {
		if assigned[fieldName] == "" {
			pick(fieldName, func(h string) bool { return strings.Contains(h, fieldName) })
		}
	}

	m := Mapping{
		Name:     assigned["name"],
		Email:    assigned["email"],
		Company:  assigned["company"],
		Title:    assigned["title"],
		Location: assigned["location"],
	}
	for _, h := range headers {
		if !used[h] && strings.TrimSpace(h) != "" {
			m.Extra = append(m.Extra, h)
		}
	}
	return m
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(h)
	h = strings.Join(strings.Fields(h), " ")
	if h == "e mail" {
		return "email"
	}
	return h
}

func field(row map[string]string, col string) string {
	if col == "" {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func detectFormat(source string, raw []byte) Format {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".json":
		return FormatJSON
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	}
	if raw[0] == '[' {
		return FormatJSON
	}
	return FormatCSV
}

func readCSV(raw []byte) ([]string, []map[string]string, error) {
	firstLine, _, _ := bytes.Cut(raw, []byte("\n"))
	reader := csv.NewReader(bytes.NewReader(raw))
	if bytes.Count(firstLine, []byte("\t")) > bytes.Count(firstLine, []byte(",")) {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row %d: %w", len(rows)+2, err)
		}
		row := make(map[string]string, len(headers))
		empty := true
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
				if strings.TrimSpace(record[i]) != "" {
					empty = false
				}
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return headers, rows, nil
}

func readJSON(raw []byte) ([]string, []map[string]string, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("decode json rows: %w", err)
	}
	seen := map[string]bool{}
	var headers []string
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		row := make(map[string]string, len(item))
		keys := make([]string, 0, len(item))
		for k := range item {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
			switch v := item[k].(type) {
			case nil:
			case string:
				row[k] = v
			default:
				row[k] = fmt.Sprint(v)
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}
