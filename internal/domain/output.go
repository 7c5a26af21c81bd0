package domain

// LastOutput snapshots the defining attributes of the most recently completed
// job so the result view can be restored across runs. MediaIDs reference
// gallery entries by identity.
type LastOutput struct {
	Mode     Mode     `json:"mode"`
	Prompt   string   `json:"prompt"`
	Model    string   `json:"model"`
	Provider Provider `json:"provider"`
	Voice    string   `json:"voice,omitempty"`
	MediaIDs []string `json:"media_ids,omitempty"`
}
