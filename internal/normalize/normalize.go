// Package normalize maps gateway-native records into the canonical
// message shape. It is pure: no storage, no network, no clock beyond
// the caller-provided fallback.
package normalize

import (
	"strings"
	"time"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/models"
)

// Draft is a canonical message candidate ready for the idempotent
// upsert path. ExternalID is the gateway's message id, verbatim.
type Draft struct {
	RemoteJID     string
	ContactNumber string
	ExternalID    string
	Content       string
	Type          models.MessageType
	IsFromContact bool
	Timestamp     time.Time
	PushName      string
}

// Message converts one gateway record into a Draft. It reports false
// for records that must never enter the pipeline: group traffic,
// missing remote identity, or a missing external id.
func Message(rec evolution.MessageRecord, fallback time.Time) (Draft, bool) {
	jid := rec.Key.RemoteJID
	if jid == "" || rec.Key.ID == "" {
		return Draft{}, false
	}
	if strings.HasSuffix(jid, evolution.GroupSuffix) {
		return Draft{}, false
	}

	content, msgType := ExtractContent(rec)

	ts := rec.MessageTimestamp.Time()
	if ts.IsZero() {
		ts = fallback
	}

	return Draft{
		RemoteJID:     jid,
		ContactNumber: ContactNumber(jid),
		ExternalID:    rec.Key.ID,
		Content:       content,
		Type:          msgType,
		IsFromContact: !rec.Key.FromMe,
		Timestamp:     ts,
		PushName:      rec.PushName,
	}, true
}

// ExtractContent produces a human-readable content string and declared
// type for any record. It is total: unknown payload types yield a
// bracketed placeholder naming the type, never an empty string.
func ExtractContent(rec evolution.MessageRecord) (string, models.MessageType) {
	m := rec.Message

	switch {
	case m.Conversation != "":
		return m.Conversation, models.TypeText
	case m.ExtendedTextMessage != nil && m.ExtendedTextMessage.Text != "":
		return m.ExtendedTextMessage.Text, models.TypeText
	case m.ImageMessage != nil:
		return withCaption("[Image]", m.ImageMessage.Caption), models.TypeImage
	case m.VideoMessage != nil:
		return withCaption("[Video]", m.VideoMessage.Caption), models.TypeVideo
	case m.AudioMessage != nil:
		return "[Audio]", models.TypeAudio
	case m.DocumentMessage != nil:
		return withCaption("[Document]", m.DocumentMessage.FileName), models.TypeDocument
	case m.LocationMessage != nil:
		return withCaption("[Location]", m.LocationMessage.Name), models.TypeLocation
	}

	if t := strings.TrimSpace(rec.MessageType); t != "" {
		return "[" + t + "]", models.TypeUnsupported
	}
	return "[Unsupported]", models.TypeUnsupported
}

// ContactNumber projects the plain number out of a JID,
// e.g. "5511999999999@s.whatsapp.net" -> "5511999999999".
func ContactNumber(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// IsGroup reports whether a remote identity is a group address.
func IsGroup(jid string) bool {
	return strings.HasSuffix(jid, evolution.GroupSuffix)
}

// DeliveryStatus maps the gateway's ack strings onto the canonical
// delivery-status enum. Contact-originated messages never map to
// "sending"; an unknown ack defaults to the weakest status consistent
// with the message having been observed at all.
func DeliveryStatus(raw string, fromContact bool) models.DeliveryStatus {
	if fromContact {
		switch raw {
		case "READ":
			return models.StatusRead
		default:
			return models.StatusDelivered
		}
	}
	switch raw {
	case "PENDING":
		return models.StatusSending
	case "SERVER_ACK":
		return models.StatusSent
	case "DELIVERY_ACK":
		return models.StatusDelivered
	case "READ":
		return models.StatusRead
	case "ERROR":
		return models.StatusFailed
	default:
		return models.StatusSent
	}
}

func withCaption(placeholder, caption string) string {
	if caption == "" {
		return placeholder
	}
	return placeholder + " " + caption
}
