package model

import "time"

// Like / Repost / Bookmark 结构相同：(creator, subject=post) 唯一

type Like struct {
	CreatorID string    `gorm:"primaryKey;type:varchar(36)" json:"creator_id" validate:"required"`
	SubjectID string    `gorm:"primaryKey;type:varchar(36);index:idx_like_subject" json:"subject_id" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

func (Like) TableName() string { return "likes" }
func (l Like) Key() string     { return ReactionKey(l.CreatorID, l.SubjectID) }

type Repost struct {
	CreatorID string    `gorm:"primaryKey;type:varchar(36)" json:"creator_id" validate:"required"`
	SubjectID string    `gorm:"primaryKey;type:varchar(36);index:idx_repost_subject" json:"subject_id" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

func (Repost) TableName() string { return "reposts" }
func (r Repost) Key() string     { return ReactionKey(r.CreatorID, r.SubjectID) }

type Bookmark struct {
	CreatorID string    `gorm:"primaryKey;type:varchar(36)" json:"creator_id" validate:"required"`
	SubjectID string    `gorm:"primaryKey;type:varchar(36)" json:"subject_id" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

func (Bookmark) TableName() string { return "bookmarks" }
func (b Bookmark) Key() string     { return ReactionKey(b.CreatorID, b.SubjectID) }

func ReactionKey(creatorID, subjectID string) string {
	return CompositeKey(creatorID, subjectID)
}
