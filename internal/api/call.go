package api

import "encoding/json"

// Callable endpoint names served under POST /call/{name}.
const (
	CallLikePost            = "likePost"
	CallUnlikePost          = "unlikePost"
	CallSavePost            = "savePost"
	CallUnsavePost          = "unsavePost"
	CallAddComment          = "addComment"
	CallEditComment         = "editComment"
	CallDeleteComment       = "deleteComment"
	CallCreatePost          = "createPost"
	CallEditPost            = "editPost"
	CallDeletePost          = "deletePost"
	CallUpdateProfile       = "updateProfile"
	CallRequestVerification = "requestVerification"
	CallReviewVerification  = "reviewVerification"
	CallSubmitMembership    = "submitMembership"
	CallReviewMembership    = "reviewMembership"
)

// CallRequest is the body of every callable endpoint.
type CallRequest struct {
	Data json.RawMessage `json:"data"`
}

// CallResponse carries exactly one of Result or Error.
type CallResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *CallError      `json:"error,omitempty"`
}

// CallError.Status holds an error code such as PERMISSION_DENIED.
type CallError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type PostRef struct {
	PostID string `json:"postId"`
}

type LikeResult struct {
	Success    bool `json:"success"`
	Liked      bool `json:"liked"`
	LikesCount int  `json:"likesCount"`
}

type SaveResult struct {
	Success bool `json:"success"`
	Saved   bool `json:"saved"`
}

type AddCommentInput struct {
	PostID   string `json:"postId"`
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
}

type AddCommentResult struct {
	Success   bool   `json:"success"`
	CommentID string `json:"commentId"`
}

type EditCommentInput struct {
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
	NewText   string `json:"newText"`
}

type CommentRef struct {
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
}

type CreatePostInput struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	MediaURL     string `json:"mediaUrl"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	MediaType    string `json:"mediaType"`
	IsGated      bool   `json:"isGated"`
}

type CreatePostResult struct {
	Success bool   `json:"success"`
	PostID  string `json:"postId"`
}

type EditPostInput struct {
	PostID       string  `json:"postId"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	MediaURL     *string `json:"mediaUrl,omitempty"`
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`
	MediaType    *string `json:"mediaType,omitempty"`
	IsGated      *bool   `json:"isGated,omitempty"`
}

type UpdateProfileInput struct {
	Username *string `json:"username,omitempty"`
	Bio      *string `json:"bio,omitempty"`
	PhotoURL *string `json:"photoUrl,omitempty"`
}

type VerificationInput struct {
	DocURL string `json:"docUrl"`
}

type MembershipInput struct {
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	DateOfBirth      string `json:"dateOfBirth"`
	EstimatedMonthly int    `json:"estimatedMonthly"`
	DocumentURL      string `json:"documentUrl"`
	FoundVia         string `json:"foundVia,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

type RequestResult struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
}

type ReviewInput struct {
	RequestID string `json:"requestId"`
	Approve   bool   `json:"approve"`
}

// SuccessResult is returned by calls with no other output.
type SuccessResult struct {
	Success bool `json:"success"`
}

// PostStatus is the caller's relationship with a post, read once to seed
// the initial Liked and Saved states.
type PostStatus struct {
	PostID     string `json:"postId"`
	Liked      bool   `json:"liked"`
	Saved      bool   `json:"saved"`
	LikesCount int    `json:"likesCount"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Uptime   string `json:"uptime"`
}
