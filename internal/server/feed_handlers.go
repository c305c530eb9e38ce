package server

import (
	"murmur/internal/middleware"
	"murmur/internal/models"
	"murmur/internal/service"

	"github.com/gofiber/fiber/v2"
)

type postBody struct {
	Body string `json:"body"`
}

// parseBody decodes an optional JSON body. An empty body leaves dest as is.
func parseBody(c *fiber.Ctx, dest any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dest); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

// GetFeed returns the timeline of the authors listed in ?authors=a,b.
func (s *Server) GetFeed(c *fiber.Ctx) error {
	page, err := s.parsePage(c)
	if err != nil {
		return respondError(c, err)
	}

	posts, err := s.feedService.TimelineForAuthors(c.UserContext(), splitIDs(c.Query("authors")), middleware.Viewer(c), page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

// GetUserPosts returns one author's posts, newest first.
func (s *Server) GetUserPosts(c *fiber.Ctx) error {
	page, err := s.parsePage(c)
	if err != nil {
		return respondError(c, err)
	}

	posts, err := s.feedService.PostsByAuthor(c.UserContext(), c.Params("id"), middleware.Viewer(c), page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

// GetPost returns a single enriched post.
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.feedService.GetPost(c.UserContext(), c.Params("id"), middleware.Viewer(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// GetReposts returns the posts that repost :id.
func (s *Server) GetReposts(c *fiber.Ctx) error {
	page, err := s.parsePage(c)
	if err != nil {
		return respondError(c, err)
	}

	posts, err := s.feedService.RepostsOf(c.UserContext(), c.Params("id"), middleware.Viewer(c), page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

// GetLikers returns the active users who liked :id, in like order.
func (s *Server) GetLikers(c *fiber.Ctx) error {
	page, err := s.parsePage(c)
	if err != nil {
		return respondError(c, err)
	}

	users, err := s.feedService.LikersOf(c.UserContext(), c.Params("id"), middleware.Viewer(c), page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(users)
}

// CreatePost publishes a new post authored by the current user.
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req postBody
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	post, err := s.feedService.CreatePost(c.UserContext(), service.CreatePostInput{
		AuthorID: currentUserID(c),
		Body:     req.Body,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// Repost reposts :id, optionally with a comment.
func (s *Server) Repost(c *fiber.Ctx) error {
	var req postBody
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	post, err := s.feedService.Repost(c.UserContext(), service.RepostInput{
		AuthorID: currentUserID(c),
		TargetID: c.Params("id"),
		Body:     req.Body,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// UpdatePost replaces the body of a post owned by the current user.
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	var req postBody
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	post, err := s.feedService.UpdatePost(c.UserContext(), service.UpdatePostInput{
		PostID: c.Params("id"),
		UserID: currentUserID(c),
		Body:   req.Body,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DeletePost removes a post. Authors and moderators may delete.
func (s *Server) DeletePost(c *fiber.Ctx) error {
	err := s.feedService.DeletePost(c.UserContext(), service.DeletePostInput{
		PostID: c.Params("id"),
		UserID: currentUserID(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LikePost adds the current user to the post's likers.
func (s *Server) LikePost(c *fiber.Ctx) error {
	post, err := s.feedService.Like(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return s.respondEnriched(c, post)
}

// UnlikePost removes the current user from the post's likers.
func (s *Server) UnlikePost(c *fiber.Ctx) error {
	post, err := s.feedService.Unlike(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return s.respondEnriched(c, post)
}

// respondEnriched answers a like toggle with the enriched post so clients
// can refresh counts and flags in one round trip.
func (s *Server) respondEnriched(c *fiber.Ctx, post *models.Post) error {
	enriched, err := s.feedService.GetPost(c.UserContext(), post.ID, middleware.Viewer(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(enriched)
}
