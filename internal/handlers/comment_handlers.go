package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"feedline/internal/api"
	"feedline/internal/engine/actors"
	"feedline/internal/models"
)

func (s *Server) callAddComment(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.AddCommentInput
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if err := required("postId", in.PostID); err != nil {
		return nil, err
	}
	res, err := s.Engine.Comments(&actors.AddCommentMsg{
		PostID:   in.PostID,
		AuthorID: userID,
		Username: in.Username,
		Text:     in.Text,
	})
	if err != nil {
		return nil, err
	}
	return api.AddCommentResult{Success: true, CommentID: res.(*models.Comment).ID}, nil
}

func (s *Server) callEditComment(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.EditCommentInput
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if err := required("postId", in.PostID); err != nil {
		return nil, err
	}
	if err := required("commentId", in.CommentID); err != nil {
		return nil, err
	}
	msg := &actors.EditCommentMsg{PostID: in.PostID, CommentID: in.CommentID, AuthorID: userID, Text: in.NewText}
	if _, err := s.Engine.Comments(msg); err != nil {
		return nil, err
	}
	return api.SuccessResult{Success: true}, nil
}

func (s *Server) callDeleteComment(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.CommentRef
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if err := required("postId", in.PostID); err != nil {
		return nil, err
	}
	if err := required("commentId", in.CommentID); err != nil {
		return nil, err
	}
	msg := &actors.DeleteCommentMsg{PostID: in.PostID, CommentID: in.CommentID, AuthorID: userID}
	if _, err := s.Engine.Comments(msg); err != nil {
		return nil, err
	}
	return api.SuccessResult{Success: true}, nil
}

// HandleGetComments lists a post's comments, oldest first.
func (s *Server) HandleGetComments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Engine.Comments(&actors.GetCommentsForPostMsg{PostID: r.PathValue("id")})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}
