// Package models contains data structures for the application's domain models.
package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Post is a stored message, optionally a repost of another Post.
// AuthorID, RepostTargetID and CreatedAt never change after creation.
type Post struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AuthorID       string    `gorm:"type:varchar(36);not null;index:idx_posts_author_created,priority:1" json:"author_id"`
	Body           string    `gorm:"type:text;not null;default:''" json:"body"`
	RepostTargetID *string   `gorm:"type:varchar(36);index" json:"repost_target_id,omitempty"`
	LikerIDs       []string  `gorm:"-" json:"liker_ids"`
	CreatedAt      time.Time `gorm:"not null;index:idx_posts_author_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BeforeCreate assigns a fresh id when the caller did not provide one.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// IsRepost reports whether the post points at another post.
func (p *Post) IsRepost() bool {
	return p.RepostTargetID != nil && *p.RepostTargetID != ""
}

// HasLiker is an in-memory membership test on LikerIDs.
func (p *Post) HasLiker(userID string) bool {
	return slices.Contains(p.LikerIDs, userID)
}

// Clone returns a deep copy so callers can hand out posts without sharing
// the liker slice or the repost pointer.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cp := *p
	cp.LikerIDs = slices.Clone(p.LikerIDs)
	if p.RepostTargetID != nil {
		target := *p.RepostTargetID
		cp.RepostTargetID = &target
	}
	return &cp
}

// Like records one user's like on a post. The auto-increment ID keeps the
// append order of the liker set.
type Like struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_like_user_post" json:"user_id"`
	PostID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_like_user_post;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EnrichedPost is the request-scoped view of a Post. It is never persisted.
type EnrichedPost struct {
	ID             string        `json:"id"`
	AuthorID       string        `json:"author_id"`
	Body           string        `json:"body"`
	RepostTargetID *string       `json:"repost_target_id,omitempty"`
	LikerIDs       []string      `json:"liker_ids"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	LikesCount     int           `json:"likes_count"`
	RepostsCount   int64         `json:"reposts_count"`
	Likers         []UserSummary `json:"likers"`
	// IsLiked and IsReposted are nil for anonymous viewers.
	IsLiked      *bool         `json:"is_liked,omitempty"`
	IsReposted   *bool         `json:"is_reposted,omitempty"`
	RepostTarget *EnrichedPost `json:"repost_target,omitempty"`
}

// NewEnrichedPost copies the persisted fields of p into a fresh view.
func NewEnrichedPost(p *Post) *EnrichedPost {
	src := p.Clone()
	return &EnrichedPost{
		ID:             src.ID,
		AuthorID:       src.AuthorID,
		Body:           src.Body,
		RepostTargetID: src.RepostTargetID,
		LikerIDs:       src.LikerIDs,
		CreatedAt:      src.CreatedAt,
		UpdatedAt:      src.UpdatedAt,
		LikesCount:     len(src.LikerIDs),
	}
}

// Liked is a convenience accessor treating an absent flag as false.
func (e *EnrichedPost) Liked() bool {
	return e.IsLiked != nil && *e.IsLiked
}

// Reposted is a convenience accessor treating an absent flag as false.
func (e *EnrichedPost) Reposted() bool {
	return e.IsReposted != nil && *e.IsReposted
}
