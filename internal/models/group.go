package models

import "time"

// TargetGroup is a named recipient list. AutoApprove lets trusted groups
// bypass the human approval gate entirely.
type TargetGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	AutoApprove bool      `json:"autoApprove"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// GroupMember is a single contact inside a target group.
type GroupMember struct {
	GroupID     string   `json:"groupId"`
	PhoneNumber string   `json:"phoneNumber"`
	DisplayName string   `json:"displayName,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}
