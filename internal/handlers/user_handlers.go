package handlers

import (
	"log/slog"
	"net/http"

	"feedline/internal/api"
	"feedline/internal/engine/actors"
	"feedline/internal/middleware"
	"feedline/internal/models"
	"feedline/internal/utils"
)

// HandleUserRegistration handles requests to register a new user
func (s *Server) HandleUserRegistration() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.RegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := s.Engine.Users(&actors.RegisterUserMsg{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusCreated, res)
	}
}

// HandleUserLogin handles requests to log in a user
func (s *Server) HandleUserLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := s.Engine.Users(&actors.LoginMsg{Email: req.Email, Password: req.Password})
		if err != nil {
			writeError(w, err)
			return
		}
		user := res.(*models.UserProfile)

		token, expiresAt, err := s.Tokens.GenerateToken(user.ID)
		if err != nil {
			writeError(w, utils.NewAppError(utils.ErrInternal, "failed to issue token", err))
			return
		}
		slog.Info("user logged in", "user", user.ID)
		writeResult(w, http.StatusOK, api.LoginResponse{
			Success:   true,
			Token:     token,
			UserID:    user.ID,
			Username:  user.Username,
			ExpiresAt: expiresAt,
		})
	}
}

// HandleGetProfile returns a profile. Email is only included for its owner.
func (s *Server) HandleGetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Engine.Users(&actors.GetUserProfileMsg{UserID: r.PathValue("id"), ViewerID: viewer(r)})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}

func (s *Server) HandleListVerificationRequests() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := middleware.RequireUser(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		status := models.RequestStatus(r.URL.Query().Get("status"))
		res, err := s.Engine.Users(&actors.ListVerificationRequestsMsg{AdminID: adminID, Status: status})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}

func (s *Server) HandleListMembershipRequests() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := middleware.RequireUser(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		status := models.RequestStatus(r.URL.Query().Get("status"))
		res, err := s.Engine.Users(&actors.ListMembershipRequestsMsg{AdminID: adminID, Status: status})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}
