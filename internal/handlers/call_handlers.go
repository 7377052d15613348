package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"feedline/internal/api"
	"feedline/internal/engine/actors"
	"feedline/internal/middleware"
	"feedline/internal/models"
	"feedline/internal/utils"
)

// callFunc runs one callable endpoint for an authenticated caller.
type callFunc func(ctx context.Context, userID string, data json.RawMessage) (any, error)

func (s *Server) callTable() map[string]callFunc {
	return map[string]callFunc{
		api.CallLikePost:            s.callSetLike(true),
		api.CallUnlikePost:          s.callSetLike(false),
		api.CallSavePost:            s.callSetSaved(true),
		api.CallUnsavePost:          s.callSetSaved(false),
		api.CallAddComment:          s.callAddComment,
		api.CallEditComment:         s.callEditComment,
		api.CallDeleteComment:       s.callDeleteComment,
		api.CallCreatePost:          s.callCreatePost,
		api.CallEditPost:            s.callEditPost,
		api.CallDeletePost:          s.callDeletePost,
		api.CallUpdateProfile:       s.callUpdateProfile,
		api.CallRequestVerification: s.callRequestVerification,
		api.CallReviewVerification:  s.callReviewVerification,
		api.CallSubmitMembership:    s.callSubmitMembership,
		api.CallReviewMembership:    s.callReviewMembership,
	}
}

// HandleCall serves POST /call/{name}. Every callable requires a signed-in
// caller; failures are reported in the error envelope with the HTTP status
// of their code.
func (s *Server) HandleCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		call, ok := s.calls[name]
		if !ok {
			writeError(w, utils.NewNotFoundError("callable", name))
			return
		}
		userID, err := middleware.RequireUser(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		var req api.CallRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		data := req.Data
		if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			data = json.RawMessage("{}")
		}

		result, err := call(r.Context(), userID, data)
		if err != nil {
			writeError(w, err)
			return
		}
		raw, err := json.Marshal(result)
		if err != nil {
			writeError(w, utils.NewAppError(utils.ErrInternal, "failed to encode result", err))
			return
		}
		writeResult(w, http.StatusOK, api.CallResponse{Result: raw})
	}
}

func decodeData(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return utils.NewInvalidInputError("invalid data: " + err.Error())
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return utils.NewInvalidInputError(field + " is required")
	}
	return nil
}

func (s *Server) callSetLike(like bool) callFunc {
	return func(_ context.Context, userID string, data json.RawMessage) (any, error) {
		var in api.PostRef
		if err := decodeData(data, &in); err != nil {
			return nil, err
		}
		if err := required("postId", in.PostID); err != nil {
			return nil, err
		}
		res, err := s.Engine.Posts(&actors.ToggleLikeMsg{PostID: in.PostID, UserID: userID, Like: like})
		if err != nil {
			return nil, err
		}
		toggle := res.(*models.ToggleResult)
		return api.LikeResult{Success: true, Liked: toggle.Active, LikesCount: toggle.LikesCount}, nil
	}
}

func (s *Server) callSetSaved(save bool) callFunc {
	return func(_ context.Context, userID string, data json.RawMessage) (any, error) {
		var in api.PostRef
		if err := decodeData(data, &in); err != nil {
			return nil, err
		}
		if err := required("postId", in.PostID); err != nil {
			return nil, err
		}
		res, err := s.Engine.Posts(&actors.ToggleSaveMsg{PostID: in.PostID, UserID: userID, Save: save})
		if err != nil {
			return nil, err
		}
		return api.SaveResult{Success: true, Saved: res.(*models.ToggleResult).Active}, nil
	}
}

func (s *Server) callCreatePost(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.CreatePostInput
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	res, err := s.Engine.Posts(&actors.CreatePostMsg{
		AuthorID:     userID,
		Title:        in.Title,
		Description:  in.Description,
		MediaURL:     in.MediaURL,
		ThumbnailURL: in.ThumbnailURL,
		MediaType:    models.MediaType(in.MediaType),
		IsGated:      in.IsGated,
	})
	if err != nil {
		return nil, err
	}
	return api.CreatePostResult{Success: true, PostID: res.(*models.Post).ID}, nil
}

func (s *Server) callEditPost(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.EditPostInput
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if err := required("postId", in.PostID); err != nil {
		return nil, err
	}
	update := models.PostUpdate{
		Title:        in.Title,
		Description:  in.Description,
		MediaURL:     in.MediaURL,
		ThumbnailURL: in.ThumbnailURL,
		IsGated:      in.IsGated,
	}
	if in.MediaType != nil {
		mt := models.MediaType(*in.MediaType)
		update.MediaType = &mt
	}
	if _, err := s.Engine.Posts(&actors.EditPostMsg{PostID: in.PostID, UserID: userID, Update: update}); err != nil {
		return nil, err
	}
	return api.SuccessResult{Success: true}, nil
}

func (s *Server) callDeletePost(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.PostRef
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if err := required("postId", in.PostID); err != nil {
		return nil, err
	}
	if _, err := s.Engine.Posts(&actors.DeletePostMsg{PostID: in.PostID, UserID: userID}); err != nil {
		return nil, err
	}
	return api.SuccessResult{Success: true}, nil
}

func (s *Server) callUpdateProfile(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.UpdateProfileInput
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	update := models.ProfileUpdate{Username: in.Username, Bio: in.Bio, PhotoURL: in.PhotoURL}
	if _, err := s.Engine.Users(&actors.UpdateProfileMsg{UserID: userID, Update: update}); err != nil {
		return nil, err
	}
	return api.SuccessResult{Success: true}, nil
}

func (s *Server) callRequestVerification(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.VerificationInput
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	res, err := s.Engine.Users(&actors.RequestVerificationMsg{UserID: userID, DocURL: in.DocURL})
	if err != nil {
		return nil, err
	}
	return api.RequestResult{Success: true, RequestID: res.(*models.VerificationRequest).ID}, nil
}

func (s *Server) callReviewVerification(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.ReviewInput
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if err := required("requestId", in.RequestID); err != nil {
		return nil, err
	}
	msg := &actors.ReviewVerificationMsg{AdminID: userID, RequestID: in.RequestID, Approve: in.Approve}
	if _, err := s.Engine.Users(msg); err != nil {
		return nil, err
	}
	return api.SuccessResult{Success: true}, nil
}

func (s *Server) callSubmitMembership(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.MembershipInput
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	res, err := s.Engine.Users(&actors.SubmitMembershipMsg{UserID: userID, Request: models.MembershipRequest{
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		DateOfBirth:      in.DateOfBirth,
		EstimatedMonthly: in.EstimatedMonthly,
		DocumentURL:      in.DocumentURL,
		FoundVia:         in.FoundVia,
		Reason:           in.Reason,
	}})
	if err != nil {
		return nil, err
	}
	return api.RequestResult{Success: true, RequestID: res.(*models.MembershipRequest).ID}, nil
}

func (s *Server) callReviewMembership(_ context.Context, userID string, data json.RawMessage) (any, error) {
	var in api.ReviewInput
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if err := required("requestId", in.RequestID); err != nil {
		return nil, err
	}
	msg := &actors.ReviewMembershipMsg{AdminID: userID, RequestID: in.RequestID, Approve: in.Approve}
	if _, err := s.Engine.Users(msg); err != nil {
		return nil, err
	}
	return api.SuccessResult{Success: true}, nil
}
