package alldebrid

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StatusReady is the statusCode AllDebrid reports once a magnet is cached.
const StatusReady = 4

// RemoteID accepts ids encoded either as JSON numbers or strings.
type RemoteID string

func (id *RemoteID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RemoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("remote id: %w", err)
	}
	*id = RemoteID(n.String())
	return nil
}

func (id RemoteID) String() string { return string(id) }

// UploadResult is the outcome of uploading one magnet.
type UploadResult struct {
	ID    string
	Hash  string
	Name  string
	Size  int64
	Ready bool
}

type uploadedMagnet struct {
	Magnet string    `json:"magnet"`
	Hash   string    `json:"hash"`
	Name   string    `json:"name"`
	Size   int64     `json:"size"`
	Ready  bool      `json:"ready"`
	ID     RemoteID  `json:"id"`
	Error  *APIError `json:"error"`
}

type uploadData struct {
	Magnets []uploadedMagnet `json:"magnets"`
}

// LinkRef is a hoster link, encoded as a bare string or an object with a link field.
type LinkRef struct {
	Link     string `json:"link"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

func (l *LinkRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &l.Link)
	}
	type plain LinkRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*l = LinkRef(p)
	return nil
}

// MagnetStatus is the state of an uploaded magnet.
type MagnetStatus struct {
	ID         RemoteID  `json:"id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Status     string    `json:"status"`
	StatusCode int       `json:"statusCode"`
	Links      []LinkRef `json:"links"`
}

// Ready reports whether the magnet is fully cached.
func (s MagnetStatus) Ready() bool {
	return s.StatusCode == StatusReady
}

// statusData decodes magnets given either as a single object or a list.
type statusData struct {
	Magnets []MagnetStatus
}

func (d *statusData) UnmarshalJSON(b []byte) error {
	var raw struct {
		Magnets json.RawMessage `json:"magnets"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m := bytes.TrimSpace(raw.Magnets)
	if len(m) == 0 || string(m) == "null" {
		return nil
	}
	if m[0] == '[' {
		return json.Unmarshal(m, &d.Magnets)
	}
	var single MagnetStatus
	if err := json.Unmarshal(m, &single); err != nil {
		return err
	}
	d.Magnets = []MagnetStatus{single}
	return nil
}

// FileNode is an entry of a magnet file tree. Nodes with a Link are leaves.
type FileNode struct {
	Name     string     `json:"n"`
	Size     int64      `json:"s,omitempty"`
	Link     string     `json:"l,omitempty"`
	Children []FileNode `json:"e,omitempty"`
}

// IsLeaf reports whether the node carries a direct hoster link.
func (n FileNode) IsLeaf() bool {
	return n.Link != ""
}

// MagnetFiles is the file tree of one magnet.
type MagnetFiles struct {
	ID    RemoteID   `json:"id"`
	Files []FileNode `json:"files"`
	Error *APIError  `json:"error,omitempty"`
}

type filesData struct {
	Magnets []MagnetFiles `json:"magnets"`
}

// UnlockedLink is a hoster link converted to a direct download.
type UnlockedLink struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Host     string `json:"host"`
}
