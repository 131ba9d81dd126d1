package middleware

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// localizationEntry is one row of a localization table. Unknown columns
// land in Values keyed by language code.
type localizationEntry struct {
	Key     string            `json:"key,omitempty"`
	Context string            `json:"context,omitempty"`
	Example string            `json:"example,omitempty"`
	Source  string            `json:"source,omitempty"`
	Values  map[string]string `json:"values"`
}

// snapshotCSV maps a .csv file to a LocalizationTable whose Contents
// property is the JSON encoding of the rows.
func snapshotCSV(ictx *snapshot.Context, v *vfs.VFS, p, name string) (*snapshot.Snapshot, error) {
	contents, err := v.Read(p)
	if err != nil {
		return nil, err
	}

	tableContents, err := localizationFromCSV(contents)
	if err != nil {
		return nil, fmt.Errorf("file was not a valid LocalizationTable CSV file: %s: %w", p, err)
	}

	snap := snapshot.New(name, "LocalizationTable").
		WithProperty("Contents", variant.String(tableContents))
	snap.Metadata = snapshot.Metadata{
		Middleware: string(KindCSV),
		Context:    ictx,
	}.WithInstigatingSource(p)

	if err := applyAdjacentMeta(v, p, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// localizationFromCSV converts CSV rows to the JSON form stored in the
// Contents property. Rows with neither Key nor Source are skipped, as are
// blank cells.
func localizationFromCSV(contents []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(contents))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "[]", nil
	}

	headers := records[0]
	var entries []localizationEntry

	for _, record := range records[1:] {
		entry := localizationEntry{Values: make(map[string]string)}

		for i, value := range record {
			if i >= len(headers) {
				break
			}
			header := headers[i]
			if header == "" || value == "" {
				continue
			}
			switch header {
			case "Key":
				entry.Key = value
			case "Source":
				entry.Source = value
			case "Context":
				entry.Context = value
			// Studio writes `Examples` for what it reads back as
			// `Example`; accept both spellings.
			case "Example", "Examples":
				entry.Example = value
			default:
				entry.Values[header] = value
			}
		}

		if entry.Key == "" && entry.Source == "" {
			continue
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// LocalizationToCSV is the reverse conversion used by syncback. Rows are
// sorted by Source; extra language columns are deduplicated and appended in
// sorted order.
func LocalizationToCSV(tableContents string) ([]byte, error) {
	var entries []localizationEntry
	if err := json.Unmarshal([]byte(tableContents), &entries); err != nil {
		return nil, fmt.Errorf("cannot decode localization table contents: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Source < entries[j].Source
	})

	headers := []string{"Key", "Source", "Context", "Example"}
	langSet := make(map[string]struct{})
	for _, entry := range entries {
		for lang := range entry.Values {
			langSet[lang] = struct{}{}
		}
	}
	langs := make([]string, 0, len(langSet))
	for lang := range langSet {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	headers = append(headers, langs...)

	var out bytes.Buffer
	writer := csv.NewWriter(&out)
	if err := writer.Write(headers); err != nil {
		return nil, err
	}

	record := make([]string, 0, len(headers))
	for _, entry := range entries {
		record = record[:0]
		record = append(record, entry.Key, entry.Source, entry.Context, entry.Example)
		for _, lang := range langs {
			record = append(record, entry.Values[lang])
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
