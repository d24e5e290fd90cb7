package session

import (
	"encoding/json"
	"fmt"
)

// View is one open view descriptor reported by a client, newest first.
// The server stamps the freshest descriptor with its last-activity time.
type View struct {
	Name string `json:"name"`
	Time int64  `json:"time,omitempty"`
}

// Client is the presence record of one connected client.
//
// Clients may attach arbitrary extra settings through updateClient (for
// example pane layout toggles); those ride along in Extra and are
// flattened into the JSON object so peers see one flat client record.
type Client struct {
	Name       string `json:"name"`
	DeviceType string `json:"deviceType"`
	Color      string `json:"color"`
	Hidden     bool   `json:"-"`
	Views      []View `json:"views,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type clientAlias Client

// MarshalJSON flattens Extra into the client object.
func (c Client) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(clientAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits unknown keys into Extra.
func (c *Client) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("client record is not an object: %w", err)
	}
	if err := json.Unmarshal(data, (*clientAlias)(c)); err != nil {
		return err
	}
	for _, known := range []string{"name", "deviceType", "color", "views"} {
		delete(fields, known)
	}
	if len(fields) > 0 {
		c.Extra = fields
	}
	return nil
}
