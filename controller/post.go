package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"relaychat/service"
)

type PostController struct {
	posts  *service.PostService
	logger *logrus.Logger
}

func NewPostController(posts *service.PostService, logger *logrus.Logger) *PostController {
	return &PostController{posts: posts, logger: logger}
}

// List is public. Signed in callers may pass mine=true to see only their own posts.
func (ctrl *PostController) List(c *gin.Context) {
	author := ""
	if c.Query("mine") == "true" {
		author = c.GetString(userIDKey)
		if author == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
	}
	posts, err := ctrl.posts.ListPosts(c.Request.Context(), author)
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (ctrl *PostController) Create(c *gin.Context) {
	var input service.CreatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ctrl.logger.Warnf("[%s] Invalid input, %s", c.GetString(requestIDKey), err)
		respondError(c, ctrl.logger, err)
		return
	}
	post, err := ctrl.posts.CreatePost(c.Request.Context(), c.GetString(userIDKey), input)
	if err != nil {
		respondError(c, ctrl.logger, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}
