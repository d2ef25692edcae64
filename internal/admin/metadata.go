package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrBadMetadata = errors.New("admin: invalid application metadata")

// Metadata is the application payload embedded in a circuit definition.
// Alias is mandatory; AdminKeys authorizes contract administration on the
// circuit's execution endpoint.
type Metadata struct {
	Alias     string   `json:"alias"`
	AdminKeys []string `json:"scabbard_admin_keys"`
}

func ParseMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{}, fmt.Errorf("%w: empty", ErrBadMetadata)
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	if strings.TrimSpace(m.Alias) == "" {
		return Metadata{}, fmt.Errorf("%w: missing alias", ErrBadMetadata)
	}
	return m, nil
}
