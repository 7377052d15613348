package handlers

import (
	"net/http"

	"feedline/internal/engine/actors"
	"feedline/internal/middleware"
)

// HandleListPosts serves the feed, newest first.
func (s *Server) HandleListPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pageParams(r)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := s.Engine.Posts(&actors.ListPostsMsg{ViewerID: viewer(r), Limit: limit, Offset: offset})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}

func (s *Server) HandleGetPost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Engine.Posts(&actors.GetPostMsg{PostID: r.PathValue("id"), ViewerID: viewer(r)})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}

// HandlePostStatus returns the caller's liked and saved flags plus the
// committed likesCount. Anonymous callers get both flags false.
func (s *Server) HandlePostStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Engine.Posts(&actors.GetPostStatusMsg{PostID: r.PathValue("id"), UserID: viewer(r)})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}

func (s *Server) HandleUserPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pageParams(r)
		if err != nil {
			writeError(w, err)
			return
		}
		msg := &actors.ListPostsMsg{ViewerID: viewer(r), AuthorID: r.PathValue("id"), Limit: limit, Offset: offset}
		res, err := s.Engine.Posts(msg)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}

// HandleSavedPosts lists the caller's saved posts, newest save first.
func (s *Server) HandleSavedPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := middleware.RequireUser(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		limit, offset, err := pageParams(r)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := s.Engine.Posts(&actors.ListSavedPostsMsg{UserID: userID, Limit: limit, Offset: offset})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}
