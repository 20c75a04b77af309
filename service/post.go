package service

import (
	"context"

	"gorm.io/gorm"

	"relaychat/model"
)

const maxPosts = 100

type PostService struct {
	db *gorm.DB
}

func NewPostService(db *gorm.DB) *PostService {
	return &PostService{db: db}
}

type CreatePostInput struct {
	Title   string `json:"title" binding:"required,max=255"`
	Content string `json:"content" binding:"max=65535"`
}

func (s *PostService) CreatePost(ctx context.Context, userID string, in CreatePostInput) (*model.Post, error) {
	post := &model.Post{Title: in.Title, Content: in.Content, UserID: userID}
	if err := model.CreatePost(ctx, s.db, post); err != nil {
		return nil, err
	}
	return post, nil
}

// ListPosts lists every post, or only the posts of authorID when it is set.
func (s *PostService) ListPosts(ctx context.Context, authorID string) ([]model.Post, error) {
	return model.ListPosts(ctx, s.db, authorID, maxPosts)
}
