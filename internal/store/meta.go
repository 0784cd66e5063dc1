package store

import (
	"encoding/json"

	"gorm.io/gorm"

	"zapdesk/internal/models"
)

// MetaValue reads one key out of a conversation's free-form metadata
// blob. Missing blobs and keys read as empty.
func MetaValue(conv *models.Conversation, key string) string {
	if conv == nil || conv.Metadata == "" {
		return ""
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(conv.Metadata), &meta); err != nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// SetMetaValue writes one key into a conversation's metadata blob,
// preserving whatever else is stored there.
func (s *Store) SetMetaValue(convID, key, value string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", convID).Error; err != nil {
			return err
		}

		meta := map[string]any{}
		if conv.Metadata != "" {
			// A corrupt blob is replaced rather than propagated.
			_ = json.Unmarshal([]byte(conv.Metadata), &meta)
		}
		meta[key] = value

		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Model(&conv).Update("metadata", string(data)).Error
	})
}
