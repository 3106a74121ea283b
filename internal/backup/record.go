package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/xeipuuv/gojsonschema"
)

// Metadata describes the host a backup was taken on
type Metadata struct {
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platformVersion"`
	CreatedBy       string `json:"createdBy,omitempty"`
}

// Backup is an immutable snapshot of a package's settings and customizations.
// Its JSON encoding is also the export format.
type Backup struct {
	ID             string                `json:"id"`
	PackageID      string                `json:"packageId"`
	Version        string                `json:"version"`
	CreatedAt      time.Time             `json:"createdAt"`
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Settings       core.Settings         `json:"settings"`
	Customizations *core.Customizations  `json:"customizations,omitempty"`
	Package        *core.PackageSnapshot `json:"package,omitempty"`
	Metadata       Metadata              `json:"metadata"`
	Checksum       string                `json:"checksum"`
}

// ComputeChecksum returns the hex SHA-256 of b's JSON encoding with the
// checksum field blanked.
func ComputeChecksum(b *Backup) (string, error) {
	blank := *b
	blank.Checksum = ""
	data, err := json.Marshal(&blank)
	if err != nil {
		return "", fmt.Errorf("encode backup for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum reports whether the stored checksum matches the record
func VerifyChecksum(b *Backup) bool {
	sum, err := ComputeChecksum(b)
	return err == nil && sum == b.Checksum
}

// seal stamps the checksum on a fully populated record
func seal(b *Backup) error {
	sum, err := ComputeChecksum(b)
	if err != nil {
		return err
	}
	b.Checksum = sum
	return nil
}

// normalizeSettings routes settings through JSON so the in-memory record
// encodes exactly like one read back from disk.
func normalizeSettings(s core.Settings) (core.Settings, error) {
	if s == nil {
		return core.Settings{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	out := core.Settings{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

const recordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "packageId", "version", "createdAt", "settings", "metadata", "checksum"],
  "properties": {
    "id": {"type": "string"},
    "packageId": {"type": "string", "pattern": "^[a-z0-9-]+$"},
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "createdAt": {"type": "string", "format": "date-time"},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "settings": {"type": "object"},
    "customizations": {
      "type": "object",
      "properties": {
        "templates": {"type": "object", "additionalProperties": {"type": "string"}},
        "sections": {"type": "object", "additionalProperties": {"type": "string"}},
        "styles": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    },
    "package": {
      "type": "object",
      "required": ["files"],
      "properties": {
        "files": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    },
    "metadata": {
      "type": "object",
      "required": ["platform", "platformVersion"],
      "properties": {
        "platform": {"type": "string"},
        "platformVersion": {"type": "string"},
        "createdBy": {"type": "string"}
      }
    },
    "checksum": {"type": "string"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func recordSchemaValidator() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
	})
	return schema, schemaErr
}

// Decode schema-validates and parses a serialized backup record
func Decode(data []byte) (*Backup, error) {
	s, err := recordSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("load backup schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(problems, "; "))
	}

	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if b.Settings == nil {
		b.Settings = core.Settings{}
	}
	return &b, nil
}

// Encode serializes a backup record in the export format
func Encode(b *Backup) ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	return data, nil
}
