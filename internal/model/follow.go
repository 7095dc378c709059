package model

import "time"

// Follow 关注关系（creator 关注 subject）
type Follow struct {
	CreatorID string `gorm:"primaryKey;type:varchar(36)" json:"creator_id" validate:"required"`
	SubjectID string `gorm:"primaryKey;type:varchar(36);index:idx_follow_subject" json:"subject_id" validate:"required,nefield=CreatorID"`
	// 复合主键 (creator_id, subject_id)，避免重复关注
	CreatedAt time.Time `json:"created_at"`
}

func (Follow) TableName() string { return "follows" }

func (f Follow) Key() string { return ReactionKey(f.CreatorID, f.SubjectID) }
