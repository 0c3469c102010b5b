package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"monument/api/internal/store"
)

// DefaultDocumentName is the name of the System-owned default document
// published when the store is empty.
const DefaultDocumentName = "Post-scarcity Framework"

// BootstrapStore is the storage surface Bootstrap needs.
type BootstrapStore interface {
	CountDocuments(ctx context.Context) (int, error)
	PutDocument(ctx context.Context, rec store.DocumentRecord) (time.Time, error)
}

// Bootstrap publishes the template as a System-owned default document when
// the store holds no documents yet. Subsequent boots are no-ops.
func Bootstrap(ctx context.Context, st BootstrapStore, src *Source) error {
	count, err := st.CountDocuments(ctx)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	if count > 0 {
		return nil
	}

	doc, err := src.Template(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	rec := store.DocumentRecord{
		ID:         "default",
		Name:       DefaultDocumentName,
		OwnerID:    "system",
		OwnerEmail: "system@monument.local",
		Data:       data,
	}
	if _, err := st.PutDocument(ctx, rec); err != nil {
		return fmt.Errorf("publish default document: %w", err)
	}

	log.Printf("{\"level\":\"info\",\"msg\":\"seeded default document\",\"id\":%q,\"name\":%q}", rec.ID, rec.Name)
	return nil
}
