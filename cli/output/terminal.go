package output

import (
	"bytes"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/jgoldverg/imgdrop/backend/catalog"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatTOML  = "toml"
)

func humanizeSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func PrintCatalogTable(records []catalog.Record) error {
	if len(records) == 0 {
		pterm.Info.Println("catalog is empty")
		return nil
	}
	tableData := pterm.TableData{
		{"Filename", "Author", "Uploaded", "Size", "Thumbnail"},
	}
	for _, r := range records {
		thumb := "no"
		if r.HasThumb {
			thumb = "yes"
		}
		tableData = append(tableData, []string{
			r.Filename,
			r.Author,
			r.CreatedAt.Format(catalog.ListingTimeLayout),
			humanizeSize(r.Size),
			thumb,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
}

type catalogDocument struct {
	Records []catalog.Record `toml:"records" yaml:"records"`
}

// WriteCatalog renders records to w in the named format.
func WriteCatalog(w io.Writer, format string, records []catalog.Record) error {
	doc := catalogDocument{Records: records}
	switch format {
	case "", FormatTable:
		return PrintCatalogTable(records)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	default:
		return fmt.Errorf("unknown output format %q (want %s, %s or %s)", format, FormatTable, FormatYAML, FormatTOML)
	}
}
