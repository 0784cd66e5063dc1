package evolution

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// GroupSuffix is the reserved domain suffix of group addresses. Group
// traffic is out of scope for the whole pipeline.
const GroupSuffix = "@g.us"

// UnixTime decodes the gateway's messageTimestamp field, which arrives
// either as a JSON number or as a quoted string of seconds.
type UnixTime int64

func (t *UnixTime) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*t = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// A malformed timestamp is not worth failing a whole record for.
		*t = 0
		return nil
	}
	*t = UnixTime(v)
	return nil
}

// Time converts to wall-clock time; zero values report !IsValid().
func (t UnixTime) Time() time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.Unix(int64(t), 0).UTC()
}

// MessageKey identifies one message on the gateway side. ID is the
// external deduplication key and is carried verbatim downstream.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MessageContent holds the per-type payload variants the gateway emits.
type MessageContent struct {
	Conversation        string `json:"conversation,omitempty"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage,omitempty"`
	ImageMessage *struct {
		Caption string `json:"caption"`
	} `json:"imageMessage,omitempty"`
	VideoMessage *struct {
		Caption string `json:"caption"`
	} `json:"videoMessage,omitempty"`
	AudioMessage *struct {
		Seconds int `json:"seconds"`
	} `json:"audioMessage,omitempty"`
	DocumentMessage *struct {
		FileName string `json:"fileName"`
		Caption  string `json:"caption"`
	} `json:"documentMessage,omitempty"`
	LocationMessage *struct {
		Name string `json:"name"`
	} `json:"locationMessage,omitempty"`
}

// MessageRecord is one gateway-native message, as pushed by webhook or
// pulled via findMessages.
type MessageRecord struct {
	Key              MessageKey      `json:"key"`
	PushName         string          `json:"pushName,omitempty"`
	Message          MessageContent  `json:"message"`
	MessageType      string          `json:"messageType,omitempty"`
	MessageTimestamp UnixTime        `json:"messageTimestamp,omitempty"`
	Status           string          `json:"status,omitempty"`
	ContextInfo      json.RawMessage `json:"contextInfo,omitempty"`
}

// ChatRecord is one entry of the remote chat list.
type ChatRecord struct {
	ID            string   `json:"id,omitempty"`
	RemoteJID     string   `json:"remoteJid,omitempty"`
	Name          string   `json:"name,omitempty"`
	PushName      string   `json:"pushName,omitempty"`
	ProfilePicURL string   `json:"profilePicUrl,omitempty"`
	WindowStart   string   `json:"windowStart,omitempty"`
	WindowExpires string   `json:"windowExpires,omitempty"`
	UpdatedAt     UnixTime `json:"updatedAt,omitempty"`
}

// JID returns whichever of the two address fields is populated.
func (c ChatRecord) JID() string {
	if c.RemoteJID != "" {
		return c.RemoteJID
	}
	return c.ID
}

// ContactRecord is one entry of the remote contact directory.
type ContactRecord struct {
	ID            string `json:"id,omitempty"`
	RemoteJID     string `json:"remoteJid,omitempty"`
	PushName      string `json:"pushName,omitempty"`
	ProfileName   string `json:"profileName,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
}

func (c ContactRecord) JID() string {
	if c.RemoteJID != "" {
		return c.RemoteJID
	}
	return c.ID
}

// DisplayName returns the best available human-readable name, empty
// when the contact has no resolvable name.
func (c ContactRecord) DisplayName() string {
	if c.PushName != "" {
		return c.PushName
	}
	return c.ProfileName
}

// QRPayload is the response of GET /instance/connect/{instance}.
type QRPayload struct {
	Code        string `json:"code,omitempty"`
	Base64      string `json:"base64,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
}

// InstanceInfo is one entry of GET /instance/fetchInstances. Newer
// gateway versions report connectionStatus at the top level, older
// ones nest state under instance.
type InstanceInfo struct {
	ConnectionStatus string `json:"connectionStatus,omitempty"`
	Instance         struct {
		InstanceName string `json:"instanceName,omitempty"`
		State        string `json:"state,omitempty"`
		Status       string `json:"status,omitempty"`
	} `json:"instance,omitempty"`
}

// State returns the effective session state from whichever field the
// gateway populated. "open" means connected.
func (i InstanceInfo) State() string {
	if i.ConnectionStatus != "" {
		return i.ConnectionStatus
	}
	if i.Instance.State != "" {
		return i.Instance.State
	}
	return i.Instance.Status
}

// WebhookConfig is the webhook descriptor sent on instance creation.
type WebhookConfig struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// CreateInstanceRequest is the body of POST /instance/create.
type CreateInstanceRequest struct {
	InstanceName string        `json:"instanceName"`
	Token        string        `json:"token,omitempty"`
	Number       string        `json:"number,omitempty"`
	QRCode       bool          `json:"qrcode"`
	Integration  string        `json:"integration,omitempty"`
	Webhook      WebhookConfig `json:"webhook"`
}

// SendTextRequest is the body of POST /message/sendText/{instance}.
type SendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendResponse carries the gateway-assigned key of an accepted
// outbound message.
type SendResponse struct {
	Key              MessageKey `json:"key"`
	MessageTimestamp UnixTime   `json:"messageTimestamp,omitempty"`
	Status           string     `json:"status,omitempty"`
}

// WebhookEnvelope is the push-event wrapper the gateway POSTs to us.
// Data is decoded per event class, hence the raw payload.
type WebhookEnvelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// MessageRecords decodes the envelope payload for message-class
// events. A single bare record is accepted alongside the documented
// array form.
func (e WebhookEnvelope) MessageRecords() ([]MessageRecord, error) {
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []MessageRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var record MessageRecord
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, err
	}
	return []MessageRecord{record}, nil
}

// ConnectionUpdate decodes the payload of connection.update events.
func (e WebhookEnvelope) ConnectionUpdate() (*ConnectionUpdateData, error) {
	var data ConnectionUpdateData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// QRCodeUpdate decodes the payload of qrcode.updated events.
func (e WebhookEnvelope) QRCodeUpdate() (*QRCodeUpdateData, error) {
	var data QRCodeUpdateData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ConnectionUpdateData is the payload of connection.update events.
type ConnectionUpdateData struct {
	State      string `json:"state,omitempty"`
	Status     string `json:"status,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// EffectiveState mirrors InstanceInfo.State for the push-side payload.
func (d ConnectionUpdateData) EffectiveState() string {
	if d.State != "" {
		return d.State
	}
	return d.Status
}

// QRCodeUpdateData is the payload of qrcode.updated events.
type QRCodeUpdateData struct {
	QRCode QRPayload `json:"qrcode"`
}
