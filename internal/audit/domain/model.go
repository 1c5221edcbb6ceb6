package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeAdmin  ActorType = "admin"
	ActorTypeSystem ActorType = "system"
)

// AuditLog records one admin or system action on money state.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `json:"action" gorm:"type:text;not null"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Entry is what callers hand to the service; actor and client metadata are
// filled from the request context when absent.
type Entry struct {
	ActorType  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

// ListFilter narrows an audit query. Zero values match everything; Since is
// inclusive and Until exclusive.
type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	Since      time.Time
	Until      time.Time
	AfterID    snowflake.ID
	Limit      int
}
