package actors

import (
	stdctx "context"
	"log/slog"
	"strings"
	"time"

	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
)

type (
	RegisterUserMsg struct {
		Username string
		Email    string
		Password string
	}

	// LoginMsg replies with the profile when the credentials match.
	LoginMsg struct {
		Email    string
		Password string
	}

	GetUserProfileMsg struct {
		UserID   string
		ViewerID string
	}

	UpdateProfileMsg struct {
		UserID string
		Update models.ProfileUpdate
	}

	RequestVerificationMsg struct {
		UserID string
		DocURL string
	}

	SubmitMembershipMsg struct {
		UserID  string
		Request models.MembershipRequest
	}

	ListVerificationRequestsMsg struct {
		AdminID string
		Status  models.RequestStatus
	}

	ReviewVerificationMsg struct {
		AdminID   string
		RequestID string
		Approve   bool
	}

	ListMembershipRequestsMsg struct {
		AdminID string
		Status  models.RequestStatus
	}

	ReviewMembershipMsg struct {
		AdminID   string
		RequestID string
		Approve   bool
	}

	// SetPermissionsMsg is sent by operator tooling, not by API callers.
	SetPermissionsMsg struct {
		UserID      string
		Permissions models.Permission
	}
)

// UserSupervisor handles registration, login and the admin review queue, and
// forwards per-user writes to a child UserActor so one user's requests are
// applied in order.
type UserSupervisor struct {
	deps       *Deps
	userActors map[string]*actor.PID
}

func NewUserSupervisor(deps *Deps) actor.Actor {
	return &UserSupervisor{
		deps:       deps,
		userActors: make(map[string]*actor.PID),
	}
}

func (s *UserSupervisor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		slog.Debug("UserSupervisor started", "pid", context.Self().Id)
	case *actor.Terminated:
		for id, pid := range s.userActors {
			if pid.Equal(msg.Who) {
				delete(s.userActors, id)
			}
		}
	case *RegisterUserMsg:
		s.handleRegister(context, msg)
	case *LoginMsg:
		s.handleLogin(context, msg)
	case *GetUserProfileMsg:
		s.handleGetProfile(context, msg)
	case *UpdateProfileMsg:
		s.forward(context, msg.UserID)
	case *RequestVerificationMsg:
		s.forward(context, msg.UserID)
	case *SubmitMembershipMsg:
		s.forward(context, msg.UserID)
	case *ListVerificationRequestsMsg:
		s.handleListVerification(context, msg)
	case *ReviewVerificationMsg:
		s.handleReviewVerification(context, msg)
	case *ListMembershipRequestsMsg:
		s.handleListMembership(context, msg)
	case *ReviewMembershipMsg:
		s.handleReviewMembership(context, msg)
	case *SetPermissionsMsg:
		s.handleSetPermissions(context, msg)
	}
}

func (s *UserSupervisor) forward(context actor.Context, userID string) {
	if err := requireCaller(userID); err != nil {
		s.deps.respondErr(context, "user_forward", err)
		return
	}
	pid, ok := s.userActors[userID]
	if !ok {
		props := actor.PropsFromProducer(func() actor.Actor {
			return NewUserActor(userID, s.deps)
		})
		pid = context.Spawn(props)
		s.userActors[userID] = pid
	}
	context.Forward(pid)
}

func hashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func (s *UserSupervisor) handleRegister(context actor.Context, msg *RegisterUserMsg) {
	startTime := time.Now()
	email := strings.ToLower(strings.TrimSpace(msg.Email))
	if err := models.ValidateUsername(msg.Username); err != nil {
		s.deps.respondErr(context, "register", utils.NewInvalidInputError(err.Error()))
		return
	}
	if err := models.ValidateEmail(email); err != nil {
		s.deps.respondErr(context, "register", utils.NewInvalidInputError(err.Error()))
		return
	}
	if len(msg.Password) < minPasswordLength || len(msg.Password) > maxPasswordLength {
		s.deps.respondErr(context, "register", utils.NewInvalidInputError("password must be 8 to 72 characters"))
		return
	}

	hashed, err := hashPassword(msg.Password, s.deps.PasswordCost)
	if err != nil {
		s.deps.respondErr(context, "register", utils.NewAppError(utils.ErrInternal, "failed to hash password", err))
		return
	}
	user := &models.UserProfile{
		ID:             uuid.NewString(),
		Username:       msg.Username,
		Email:          email,
		HashedPassword: hashed,
		Permissions:    models.PermissionUser,
	}

	ctx, cancel := s.deps.storeContext()
	defer cancel()
	if err := s.deps.DB.SaveUser(ctx, user); err != nil {
		s.deps.respondErr(context, "register", err)
		return
	}
	slog.Info("user registered", "user", user.ID, "username", user.Username)

	s.deps.observe("register", startTime)
	context.Respond(user)
}

func (s *UserSupervisor) handleLogin(context actor.Context, msg *LoginMsg) {
	startTime := time.Now()
	invalid := utils.NewAppError(utils.ErrInvalidCredentials, "invalid email or password", nil)

	ctx, cancel := s.deps.storeContext()
	defer cancel()
	user, err := s.deps.DB.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(msg.Email)))
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			err = invalid
		}
		s.deps.respondErr(context, "login", err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(msg.Password)) != nil {
		s.deps.respondErr(context, "login", invalid)
		return
	}

	s.deps.observe("login", startTime)
	context.Respond(user)
}

func (s *UserSupervisor) handleGetProfile(context actor.Context, msg *GetUserProfileMsg) {
	ctx, cancel := s.deps.storeContext()
	defer cancel()
	user, err := s.deps.DB.GetUser(ctx, msg.UserID)
	if err != nil {
		s.deps.respondErr(context, "get_profile", err)
		return
	}
	if msg.ViewerID != user.ID {
		user = user.Public()
	}
	context.Respond(user)
}

// adminCall runs fn after checking that adminID is an admin.
func (s *UserSupervisor) adminCall(context actor.Context, op, adminID string, fn func(ctx stdctx.Context) (interface{}, error)) {
	startTime := time.Now()
	if err := requireCaller(adminID); err != nil {
		s.deps.respondErr(context, op, err)
		return
	}
	ctx, cancel := s.deps.storeContext()
	defer cancel()
	if err := s.deps.requireAdmin(ctx, adminID); err != nil {
		s.deps.respondErr(context, op, err)
		return
	}
	result, err := fn(ctx)
	if err != nil {
		s.deps.respondErr(context, op, err)
		return
	}
	s.deps.observe(op, startTime)
	context.Respond(result)
}

func statusOrPending(status models.RequestStatus) models.RequestStatus {
	if status == "" {
		return models.StatusPending
	}
	return status
}

func (s *UserSupervisor) handleListVerification(context actor.Context, msg *ListVerificationRequestsMsg) {
	s.adminCall(context, "list_verification", msg.AdminID, func(ctx stdctx.Context) (interface{}, error) {
		return s.deps.DB.GetVerificationRequests(ctx, statusOrPending(msg.Status))
	})
}

func (s *UserSupervisor) handleReviewVerification(context actor.Context, msg *ReviewVerificationMsg) {
	s.adminCall(context, "review_verification", msg.AdminID, func(ctx stdctx.Context) (interface{}, error) {
		req, err := s.deps.DB.ReviewVerificationRequest(ctx, msg.RequestID, msg.AdminID, msg.Approve)
		if err == nil {
			slog.Info("verification reviewed", "request", req.ID, "user", req.UserID, "status", req.Status)
		}
		return req, err
	})
}

func (s *UserSupervisor) handleListMembership(context actor.Context, msg *ListMembershipRequestsMsg) {
	s.adminCall(context, "list_membership", msg.AdminID, func(ctx stdctx.Context) (interface{}, error) {
		return s.deps.DB.GetMembershipRequests(ctx, statusOrPending(msg.Status))
	})
}

func (s *UserSupervisor) handleReviewMembership(context actor.Context, msg *ReviewMembershipMsg) {
	s.adminCall(context, "review_membership", msg.AdminID, func(ctx stdctx.Context) (interface{}, error) {
		req, err := s.deps.DB.ReviewMembershipRequest(ctx, msg.RequestID, msg.AdminID, msg.Approve)
		if err == nil {
			slog.Info("membership reviewed", "request", req.ID, "user", req.UserID, "status", req.Status)
		}
		return req, err
	})
}

func (s *UserSupervisor) handleSetPermissions(context actor.Context, msg *SetPermissionsMsg) {
	if !msg.Permissions.Valid() {
		s.deps.respondErr(context, "set_permissions", utils.NewInvalidInputError("unknown permissions "+string(msg.Permissions)))
		return
	}
	ctx, cancel := s.deps.storeContext()
	defer cancel()
	if err := s.deps.DB.SetPermissions(ctx, msg.UserID, msg.Permissions); err != nil {
		s.deps.respondErr(context, "set_permissions", err)
		return
	}
	slog.Info("permissions changed", "user", msg.UserID, "permissions", msg.Permissions)
	context.Respond(true)
}

// UserActor applies one user's own profile and application writes.
type UserActor struct {
	id   string
	deps *Deps
}

func NewUserActor(id string, deps *Deps) *UserActor {
	return &UserActor{id: id, deps: deps}
}

func (a *UserActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *UpdateProfileMsg:
		a.handleUpdateProfile(context, msg)
	case *RequestVerificationMsg:
		a.handleRequestVerification(context, msg)
	case *SubmitMembershipMsg:
		a.handleSubmitMembership(context, msg)
	}
}

func (a *UserActor) handleUpdateProfile(context actor.Context, msg *UpdateProfileMsg) {
	startTime := time.Now()
	update := msg.Update
	if update.Empty() {
		a.deps.respondErr(context, "update_profile", utils.NewInvalidInputError("nothing to update"))
		return
	}
	if update.Username != nil {
		if err := models.ValidateUsername(*update.Username); err != nil {
			a.deps.respondErr(context, "update_profile", utils.NewInvalidInputError(err.Error()))
			return
		}
	}
	if update.PhotoURL != nil && *update.PhotoURL != "" && !models.ValidMediaURL(*update.PhotoURL) {
		a.deps.respondErr(context, "update_profile", utils.NewInvalidInputError("photoUrl must be an http(s) URL"))
		return
	}
	if update.Bio != nil && len(*update.Bio) > models.MaxBioLength {
		a.deps.respondErr(context, "update_profile", utils.NewInvalidInputError("bio is too long"))
		return
	}

	ctx, cancel := a.deps.storeContext()
	defer cancel()
	user, err := a.deps.DB.UpdateProfile(ctx, a.id, update)
	if err != nil {
		a.deps.respondErr(context, "update_profile", err)
		return
	}
	a.deps.observe("update_profile", startTime)
	context.Respond(user)
}

func (a *UserActor) handleRequestVerification(context actor.Context, msg *RequestVerificationMsg) {
	req := &models.VerificationRequest{
		ID:     uuid.NewString(),
		UserID: a.id,
		DocURL: msg.DocURL,
		Status: models.StatusPending,
	}
	if err := req.Validate(); err != nil {
		a.deps.respondErr(context, "request_verification", utils.NewInvalidInputError(err.Error()))
		return
	}

	ctx, cancel := a.deps.storeContext()
	defer cancel()
	user, err := a.deps.DB.GetUser(ctx, a.id)
	if err != nil {
		a.deps.respondErr(context, "request_verification", err)
		return
	}
	if user.Verified {
		a.deps.respondErr(context, "request_verification", utils.NewInvalidInputError("already verified"))
		return
	}
	if err := a.deps.DB.CreateVerificationRequest(ctx, req); err != nil {
		a.deps.respondErr(context, "request_verification", err)
		return
	}
	context.Respond(req)
}

func (a *UserActor) handleSubmitMembership(context actor.Context, msg *SubmitMembershipMsg) {
	req := msg.Request
	req.ID = uuid.NewString()
	req.UserID = a.id
	req.Status = models.StatusPending
	req.ReviewedAt = nil
	req.ReviewedBy = ""
	if err := req.Validate(time.Now()); err != nil {
		a.deps.respondErr(context, "submit_membership", utils.NewInvalidInputError(err.Error()))
		return
	}

	ctx, cancel := a.deps.storeContext()
	defer cancel()
	if err := a.deps.DB.CreateMembershipRequest(ctx, &req); err != nil {
		a.deps.respondErr(context, "submit_membership", err)
		return
	}
	context.Respond(&req)
}
