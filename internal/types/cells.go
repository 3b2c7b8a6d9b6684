package types

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Node types reported by the metadata API
const (
	NodeTypeLeaf       = "LEAF"
	NodeTypeCollection = "COLLECTION"
)

// UserData is the identity returned by GET /user/{login}
type UserData struct {
	Uuid       string        `json:"Uuid"`
	Login      string        `json:"Login,omitempty"`
	Attributes AttributeData `json:"Attributes"`
}

// AttributeData carries the profile attributes of a user
type AttributeData struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Profile     string `json:"profile"`
}

func (u *UserData) Headers() []string {
	return []string{"UUID", "Login", "Display Name", "Email", "Profile"}
}

func (u *UserData) Rows() [][]string {
	return [][]string{{u.Uuid, u.Login, u.Attributes.DisplayName, u.Attributes.Email, u.Attributes.Profile}}
}

func (u *UserData) EmptyMessage() string {
	return "No user data"
}

// MetaStore holds the JSON-encoded metadata attached to a node
type MetaStore struct {
	WsLabel    string `json:"ws_label,omitempty"`
	WsSyncable string `json:"ws_syncable,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Node is one entry of a bulk metadata response
type Node struct {
	Uuid      string    `json:"Uuid"`
	Path      string    `json:"Path"`
	Type      string    `json:"Type"`
	Etag      string    `json:"Etag,omitempty"`
	Size      string    `json:"Size,omitempty"`
	MTime     string    `json:"MTime,omitempty"`
	MetaStore MetaStore `json:"MetaStore"`
}

// IsDir reports whether the node is a folder or workspace root
func (n Node) IsDir() bool {
	return n.Type == NodeTypeCollection
}

// Key returns the node path without surrounding slashes, the form used as object key
func (n Node) Key() string {
	return strings.Trim(n.Path, "/")
}

// SizeBytes parses the string-encoded size
func (n Node) SizeBytes() int64 {
	size, err := strconv.ParseInt(n.Size, 10, 64)
	if err != nil {
		return 0
	}
	return size
}

// ModTime parses the string-encoded unix modification time
func (n Node) ModTime() time.Time {
	secs, err := strconv.ParseInt(n.MTime, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// Label returns the workspace label when present, otherwise the base name
func (n Node) Label() string {
	if label := unquoteMeta(n.MetaStore.WsLabel); label != "" {
		return label
	}
	if name := unquoteMeta(n.MetaStore.Name); name != "" {
		return name
	}
	return path.Base(n.Key())
}

// Syncable reports whether the workspace allows synchronization
func (n Node) Syncable() bool {
	return unquoteMeta(n.MetaStore.WsSyncable) == "true"
}

func unquoteMeta(v string) string {
	if unquoted, err := strconv.Unquote(v); err == nil {
		return unquoted
	}
	return v
}

// BulkMetaData is the response of POST /meta/bulk/get
type BulkMetaData struct {
	Nodes []Node `json:"Nodes"`
}

func (b *BulkMetaData) Headers() []string {
	return []string{"Name", "Type", "Size", "Modified", "Path"}
}

func (b *BulkMetaData) Rows() [][]string {
	rows := make([][]string, 0, len(b.Nodes))
	for _, n := range b.Nodes {
		kind := "file"
		size := humanize.IBytes(uint64(n.SizeBytes()))
		if n.IsDir() {
			kind = "folder"
			size = "-"
		}
		modified := "-"
		if mt := n.ModTime(); !mt.IsZero() {
			modified = humanize.Time(mt)
		}
		rows = append(rows, []string{n.Label(), kind, size, modified, n.Key()})
	}
	return rows
}

func (b *BulkMetaData) EmptyMessage() string {
	return "No nodes found"
}

// Session is the authenticated state obtained through login
type Session struct {
	Endpoint     string    `json:"endpoint"`
	Login        string    `json:"login"`
	JWT          string    `json:"-"`
	AccessToken  string    `json:"-"`
	IDToken      string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the bearer token is past its expiry
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

func (s *Session) Headers() []string {
	return []string{"Endpoint", "Login", "Expires"}
}

func (s *Session) Rows() [][]string {
	expires := "-"
	if !s.ExpiresAt.IsZero() {
		expires = s.ExpiresAt.Format(time.RFC3339)
	}
	return [][]string{{s.Endpoint, s.Login, expires}}
}

func (s *Session) EmptyMessage() string {
	return "Not logged in"
}

// SessionResponse is the wire form of POST /frontend/session
type SessionResponse struct {
	JWT        string        `json:"JWT"`
	ExpireTime int64         `json:"ExpireTime"`
	Token      *SessionToken `json:"Token,omitempty"`
}

// SessionToken is the data-plane credential bundle of a session response
type SessionToken struct {
	AccessToken  string `json:"AccessToken"`
	IDToken      string `json:"IDToken"`
	RefreshToken string `json:"RefreshToken"`
	ExpiresAt    string `json:"ExpiresAt"`
}

// Progress is a (current, total) snapshot of a running job
type Progress struct {
	JobID   string `json:"jobId"`
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
}

// Percent returns completion with two decimals, 0 when total is unknown
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Current) / float64(p.Total) * 100
	return float64(int64(pct*100)) / 100
}

// Complete reports whether every task of a known, non-empty job is accounted for
func (p Progress) Complete() bool {
	return p.Total != 0 && p.Current == p.Total
}

func (p Progress) Headers() []string {
	return []string{"Job", "Current", "Total", "Percent"}
}

func (p Progress) Rows() [][]string {
	return [][]string{{p.JobID, strconv.FormatInt(p.Current, 10), strconv.FormatInt(p.Total, 10), fmt.Sprintf("%.2f%%", p.Percent())}}
}

func (p Progress) EmptyMessage() string {
	return "No progress"
}
