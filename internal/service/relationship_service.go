package service

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/repository"
)

// RelationshipService 关系链只读查询；关注/取关走事件流
type RelationshipService interface {
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFollowers(ctx context.Context, userID string, page, pageSize int) ([]string, error)
}

type relationshipService struct {
	followRepo repository.FollowRepository
}

func NewRelationshipService(db *gorm.DB) RelationshipService {
	return &relationshipService{followRepo: repository.NewFollowRepository(db)}
}

func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return (page - 1) * pageSize, pageSize
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageBounds(page, pageSize)
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.SubjectID
	}
	return res, nil
}

func (s *relationshipService) ListFollowers(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageBounds(page, pageSize)
	items, err := s.followRepo.ListFollowers(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.CreatorID
	}
	return res, nil
}
