package migrate

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/identity"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// MirrorExport is the YAML document written by ExportMirror.
type MirrorExport struct {
	ExportedAt time.Time        `yaml:"exported_at"`
	Count      int              `yaml:"count"`
	Items      []MirrorExportRow `yaml:"items"`
}

// MirrorExportRow is one public item with its creator's display name.
type MirrorExportRow struct {
	RecordID       string `yaml:"record_id"`
	CreatorID      string `yaml:"creator_id"`
	Creator        string `yaml:"creator"`
	schema.Content `yaml:",inline"`
	ModifiedAt     time.Time `yaml:"modified_at"`
	SyncedAt       time.Time `yaml:"synced_at"`
}

// ExportMirror writes items as a YAML document. Creators missing from
// identities are labelled with their raw id.
func ExportMirror(w io.Writer, items []*schema.MirrorItem, identities map[string]identity.Identity, exportedAt time.Time) error {
	doc := MirrorExport{
		ExportedAt: exportedAt.UTC(),
		Count:      len(items),
		Items:      make([]MirrorExportRow, 0, len(items)),
	}
	for _, item := range items {
		doc.Items = append(doc.Items, MirrorExportRow{
			RecordID:   item.RecordID,
			CreatorID:  item.CreatorID,
			Creator:    identity.Label(item.CreatorID, identities),
			Content:    item.Content,
			ModifiedAt: item.ModifiedAt.UTC(),
			SyncedAt:   item.SyncedAt.UTC(),
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode mirror export: %w", err)
	}
	return enc.Close()
}
