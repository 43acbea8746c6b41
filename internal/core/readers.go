package core

import (
	"fmt"
	"strings"

	"github.com/SimplyPrint/card-bridge/internal/logging"
)

// Reader represents a single card reader device.
type Reader struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "contact", "picc" for contactless, "sam" for SAM slots
}

// listReaders enumerates readers on an open context. No readers is an
// empty slice, not an error.
func listReaders(ctx SmartCardContext) ([]Reader, error) {
	names, err := ctx.ListReaders()
	if err != nil {
		logging.Warn(logging.CatReader, "Failed to list readers", map[string]any{
			"error": err.Error(),
		})
		return nil, &Error{
			Kind: KindDiscovery,
			Op:   "list readers",
			Msg:  "failed to list card readers",
			Err:  err,
		}
	}

	readers := make([]Reader, 0, len(names))
	for i, name := range names {
		readers = append(readers, Reader{
			ID:   fmt.Sprintf("reader-%d", i),
			Name: name,
			Type: detectReaderType(name),
		})
	}

	if len(readers) == 0 {
		logging.Debug(logging.CatReader, "No readers found", nil)
	}
	return readers, nil
}

// detectReaderType guesses the slot kind from the PC/SC reader name.
func detectReaderType(name string) string {
	nameLower := strings.ToLower(name)

	if strings.Contains(nameLower, " sam") || strings.Contains(nameLower, "sam ") {
		return "sam"
	}
	if strings.Contains(nameLower, "picc") || strings.Contains(nameLower, "contactless") {
		return "picc"
	}
	return "contact"
}
