package requests

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"groupwatch/internal/database"
	"groupwatch/models"
	"groupwatch/services/addons"
	"groupwatch/services/groups"
	"groupwatch/services/invitations"
	"groupwatch/services/stremio"
)

// Lifecycle and conflict errors. Handlers map these onto the wire
// discriminators joining clients key on.
var (
	ErrRequestNotFound  = errors.New("join request not found")
	ErrRequestExists    = errors.New("join request already submitted")
	ErrNotAccepted      = errors.New("join request is not accepted")
	ErrAlreadyCompleted = errors.New("join request is already completed")
	ErrEmailTaken       = errors.New("a member with this email already exists")
	ErrUsernameTaken    = errors.New("a member with this username already exists")
	ErrIdentityTaken    = errors.New("a member with this email and username already exists")
	ErrUserExists       = errors.New("member already exists for this request")
	ErrEmailMismatch    = errors.New("authorized account email does not match the request")
	ErrAuthKeyInvalid   = errors.New("auth key could not be verified")
)

//go:generate mockgen -source=service.go -destination=mock_provider_test.go -package=requests

// LinkProvider is the slice of the Stremio client the request lifecycle
// needs: minting link codes, resolving auth keys, and pushing addon sets.
type LinkProvider interface {
	CreateLink() (*stremio.LinkSession, error)
	GetUser(authKey string) (*stremio.User, error)
	SetAddonCollection(authKey string, addons []stremio.AddonRef) error
}

// Service owns the join request lifecycle: submission, acceptance, link
// issuance, and the exactly-once conversion into a member.
type Service struct {
	requests    *database.RequestRepository
	members     *database.MemberRepository
	invitations *invitations.Service
	groups      *groups.Service
	addons      *addons.Service
	provider    LinkProvider

	ttlMu   sync.RWMutex
	linkTTL time.Duration
}

// NewService wires the request lifecycle over its stores and the link provider.
func NewService(
	db *database.DB,
	invitationsSvc *invitations.Service,
	groupsSvc *groups.Service,
	addonsSvc *addons.Service,
	provider LinkProvider,
	linkTTL time.Duration,
) *Service {
	if linkTTL <= 0 {
		linkTTL = 15 * time.Minute
	}
	return &Service{
		requests:    db.Requests,
		members:     db.Members,
		invitations: invitationsSvc,
		groups:      groupsSvc,
		addons:      addonsSvc,
		provider:    provider,
		linkTTL:     linkTTL,
	}
}

// SetLinkTTL adjusts the lifetime applied to newly minted links. Links
// already issued keep their original expiry.
func (s *Service) SetLinkTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	s.ttlMu.Lock()
	s.linkTTL = d
	s.ttlMu.Unlock()
}

// Submit records a new join request against an open invitation. The identity
// is validated and normalized before any storage is touched, so every stored
// request carries both fields in canonical form.
func (s *Service) Submit(code, email, username string) (*models.JoinRequest, error) {
	if err := s.invitations.Validate(code); err != nil {
		return nil, err
	}

	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	username, err = NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	if err := s.checkMemberConflicts(email, username); err != nil {
		return nil, err
	}

	existing, err := s.requests.GetByCodeEmail(code, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == models.RequestRejected {
			// A rejected user may try again; the old verdict is discarded.
			if err := s.requests.Delete(existing.ID); err != nil {
				return nil, err
			}
		} else {
			return existing, ErrRequestExists
		}
	}

	req := &models.JoinRequest{
		InvitationCode: code,
		Email:          email,
		Username:       username,
		Status:         models.RequestPending,
	}
	if err := s.requests.CreateRequest(req); err != nil {
		if errors.Is(err, database.ErrDuplicateRequest) {
			return nil, ErrRequestExists
		}
		return nil, err
	}

	log.Printf("[requests] new join request %s for invitation %s (%s)", req.ID, code, email)
	return req, nil
}

func (s *Service) checkMemberConflicts(email, username string) error {
	byEmail, err := s.members.GetByEmail(email)
	if err != nil {
		return err
	}
	byUsername, err := s.members.GetByUsername(username)
	if err != nil {
		return err
	}

	switch {
	case byEmail != nil && byUsername != nil:
		return ErrIdentityTaken
	case byEmail != nil:
		return ErrEmailTaken
	case byUsername != nil:
		return ErrUsernameTaken
	}
	return nil
}

// Status reports the current snapshot of a join request. The email
// identifies the request; the username is echoed back for cross-checks.
func (s *Service) Status(code, email string) (*models.JoinRequestStatus, error) {
	inv, err := s.invitations.GetByCode(code)
	if err != nil {
		return nil, ErrRequestNotFound
	}

	email = strings.ToLower(strings.TrimSpace(email))
	req, err := s.requests.GetByCodeEmail(code, email)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}

	status := &models.JoinRequestStatus{
		Status:   req.Status,
		Email:    req.Email,
		Username: req.Username,
	}
	if req.OAuthLink != "" {
		link := req.OAuthLink
		status.OAuthLink = &link
	}
	if req.OAuthCode != "" {
		oauthCode := req.OAuthCode
		status.OAuthCode = &oauthCode
	}
	if req.OAuthExpiresAt != nil {
		expires := *req.OAuthExpiresAt
		status.OAuthExpiresAt = &expires
	}
	if group, err := s.groups.Get(inv.GroupID); err == nil {
		status.GroupName = group.Name
	}

	return status, nil
}

// GenerateOAuth mints a fresh link/code pair for an accepted request,
// replacing whatever pair was there before.
func (s *Service) GenerateOAuth(code, email string) (*models.JoinRequest, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	req, err := s.requests.GetByCodeEmail(code, email)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	if req.Status == models.RequestCompleted {
		return nil, ErrAlreadyCompleted
	}
	if req.Status != models.RequestAccepted {
		return nil, ErrNotAccepted
	}

	session, err := s.provider.CreateLink()
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	s.ttlMu.RLock()
	ttl := s.linkTTL
	s.ttlMu.RUnlock()
	expiresAt := time.Now().UTC().Add(ttl)
	if err := s.requests.SetOAuth(req.ID, session.Link, session.Code, expiresAt); err != nil {
		return nil, err
	}

	log.Printf("[requests] issued link code for request %s (expires %s)", req.ID, expiresAt.Format(time.RFC3339))
	return s.requests.GetByID(req.ID)
}

// Accept moves a pending request into the accepted phase.
func (s *Service) Accept(requestID string) (*models.JoinRequest, error) {
	req, err := s.requests.GetByID(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	if req.Status == models.RequestCompleted {
		return nil, ErrAlreadyCompleted
	}

	if err := s.requests.UpdateStatus(requestID, models.RequestAccepted); err != nil {
		return nil, err
	}
	log.Printf("[requests] accepted join request %s", requestID)
	return s.requests.GetByID(requestID)
}

// Reject declines a request and discards any outstanding link.
func (s *Service) Reject(requestID string) (*models.JoinRequest, error) {
	req, err := s.requests.GetByID(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	if req.Status == models.RequestCompleted {
		return nil, ErrAlreadyCompleted
	}

	if req.OAuthCode != "" {
		if err := s.requests.ClearOAuth(requestID); err != nil {
			return nil, err
		}
	}
	if err := s.requests.UpdateStatus(requestID, models.RequestRejected); err != nil {
		return nil, err
	}
	log.Printf("[requests] rejected join request %s", requestID)
	return s.requests.GetByID(requestID)
}

// ClearOAuth drops the outstanding link/code pair from an accepted request.
// Polling clients observe the disappearance and wait for a replacement.
func (s *Service) ClearOAuth(requestID string) (*models.JoinRequest, error) {
	req, err := s.requests.GetByID(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}

	if err := s.requests.ClearOAuth(requestID); err != nil {
		return nil, err
	}
	log.Printf("[requests] cleared link code for request %s", requestID)
	return s.requests.GetByID(requestID)
}

// Complete converts an accepted request into a member, exactly once. The auth
// key is verified against the provider and the authorizing account's email
// must match the one the request claimed.
func (s *Service) Complete(code, email, username, authKey string) (*models.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	req, err := s.requests.GetByCodeEmail(code, email)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	if req.Status == models.RequestCompleted {
		return nil, ErrUserExists
	}
	if req.Status != models.RequestAccepted {
		return nil, ErrNotAccepted
	}

	if strings.TrimSpace(authKey) == "" {
		return nil, ErrAuthKeyInvalid
	}
	account, err := s.provider.GetUser(authKey)
	if err != nil {
		log.Printf("[requests] auth key verification failed for request %s: %v", req.ID, err)
		return nil, ErrAuthKeyInvalid
	}
	if !strings.EqualFold(account.Email, req.Email) {
		log.Printf("[requests] email mismatch for request %s: account %s", req.ID, account.Email)
		return nil, ErrEmailMismatch
	}

	inv, err := s.invitations.GetByCode(code)
	if err != nil {
		return nil, ErrRequestNotFound
	}

	// A racing completion may have created the member between our status
	// read and here; surface it as the member-exists conflict so clients
	// treat it as success.
	existing, err := s.members.GetByEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.requests.Complete(req.ID, existing.ID); err != nil {
			return nil, err
		}
		return nil, ErrUserExists
	}

	member := &models.Member{
		Email:    req.Email,
		Username: req.Username,
		GroupID:  inv.GroupID,
	}
	if err := s.members.CreateMember(member); err != nil {
		if errors.Is(err, database.ErrEmailTaken) || errors.Is(err, database.ErrUsernameTaken) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	if err := s.requests.Complete(req.ID, member.ID); err != nil {
		return nil, err
	}
	log.Printf("[requests] completed join request %s as member %s", req.ID, member.ID)

	s.pushAddons(authKey, inv.GroupID)

	return member, nil
}

// pushAddons installs the group's addon set on the new member's account.
// Failures only log; membership is already established.
func (s *Service) pushAddons(authKey, groupID string) {
	group, err := s.groups.Get(groupID)
	if err != nil || len(group.AddonIDs) == 0 {
		return
	}

	resolved := s.addons.Resolve(group.AddonIDs)
	if len(resolved) == 0 {
		return
	}

	refs := make([]stremio.AddonRef, 0, len(resolved))
	for _, a := range resolved {
		refs = append(refs, stremio.AddonRef{
			TransportURL: a.ManifestURL,
			Manifest:     stremio.AddonManifest{ID: a.ID, Name: a.Name},
		})
	}

	if err := s.provider.SetAddonCollection(authKey, refs); err != nil {
		log.Printf("[requests] addon push failed for group %s: %v", groupID, err)
		return
	}
	log.Printf("[requests] pushed %d addons for group %s", len(refs), groupID)
}

// Get returns a request by ID, or ErrRequestNotFound.
func (s *Service) Get(requestID string) (*models.JoinRequest, error) {
	req, err := s.requests.GetByID(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

// List returns all join requests, optionally filtered by invitation code.
func (s *Service) List(code string) ([]models.JoinRequest, error) {
	if code != "" {
		return s.requests.ListByCode(code)
	}
	return s.requests.List()
}

// Delete removes a single request.
func (s *Service) Delete(requestID string) error {
	req, err := s.requests.GetByID(requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrRequestNotFound
	}
	return s.requests.Delete(requestID)
}

// DiscardInvitation removes every request submitted against an invitation
// code. Pollers see the missing record and reset their local state.
func (s *Service) DiscardInvitation(code string) error {
	return s.requests.DeleteByCode(code)
}

// PruneStalePending removes pending requests that have not been touched for
// longer than olderThan and reports how many were removed. A non-positive
// duration disables pruning.
func (s *Service) PruneStalePending(olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	return s.requests.DeletePendingBefore(time.Now().UTC().Add(-olderThan))
}
