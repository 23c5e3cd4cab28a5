package model

import "time"

// LinkRecord is a share link recognised in a user message
type LinkRecord struct {
	RawURL   string `json:"raw_url"`             // link exactly as found in the message
	HostCode string `json:"host_code,omitempty"` // code from /s/<code> or surl=<code>, empty if none
}

// HasCode reports whether a share code was extracted
func (l LinkRecord) HasCode() bool {
	return l.HostCode != ""
}

// FileMetadata describes the first file of a resolved share
type FileMetadata struct {
	FileName     string `json:"file_name"`
	SizeBytes    uint64 `json:"size_bytes"`
	DirectLink   string `json:"direct_link"`             // Location of the dlink redirect
	DLink        string `json:"dlink"`                   // raw link returned by the list API
	ThumbnailURL string `json:"thumbnail_url,omitempty"` // empty when the share has no preview
	ShortCode    string `json:"short_code"`              // canonical surl reported by the host
}

// User is a chat user known to the bot
type User struct {
	ID         int64     `json:"id"`
	FirstName  string    `json:"first_name"`
	Username   string    `json:"username,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Mention returns "@username", or the first name when no username is set
func (u User) Mention() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}
