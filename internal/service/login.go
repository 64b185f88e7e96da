package service

import (
	"context"
	"sync"
	"time"

	"CopilotLane/internal/biz"
	"CopilotLane/internal/conf"
	"CopilotLane/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Login session states.
const (
	LoginPending  = "pending"
	LoginSuccess  = "success"
	LoginFailed   = "failed"
	LoginCanceled = "canceled"
)

// loginTimeout bounds a device-flow session; GitHub device codes expire
// after 15 minutes.
const loginTimeout = 15 * time.Minute

// StartLoginRequest opens a device-flow login against a host.
type StartLoginRequest struct {
	Label string `json:"label"`
	Host  string `json:"host"`
}

// LoginView is the wire representation of a login session.
type LoginView struct {
	ID              string `json:"id"`
	Host            string `json:"host"`
	UserCode        string `json:"userCode,omitempty"`
	VerificationURI string `json:"verificationUri,omitempty"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	AccountID       string `json:"accountId,omitempty"`
}

type loginSession struct {
	id              string
	label           string
	host            string
	userCode        string
	verificationURI string
	status          string
	errMsg          string
	accountID       string
	cancel          context.CancelFunc
}

// LoginService drives device-flow logins: it hands the user a code to
// enter, polls for approval in the background and stores the minted
// credential in the pool, deduplicating on (host, refresh token).
type LoginService struct {
	registry *biz.Registry
	client   *oauth.Client
	host     string
	logger   *log.Helper

	mu       sync.Mutex
	sessions map[string]*loginSession
}

// NewLoginService creates the device-flow login service.
func NewLoginService(c *conf.Upstream, registry *biz.Registry, client *oauth.Client, logger log.Logger) *LoginService {
	return &LoginService{
		registry: registry,
		client:   client,
		host:     c.PublicHost,
		logger:   log.NewHelper(logger),
		sessions: map[string]*loginSession{},
	}
}

// StartLogin begins the device flow and returns the code the user must
// enter. Approval is awaited in the background; poll GetLogin for the
// outcome.
func (s *LoginService) StartLogin(ctx context.Context, req *StartLoginRequest) (*LoginView, error) {
	host := req.Host
	if host == "" {
		host = s.host
	}
	label := req.Label
	if label == "" {
		label = host
	}

	auth, err := s.client.BeginDeviceFlow(ctx, host)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	session := &loginSession{
		id:              uuid.NewString(),
		label:           label,
		host:            host,
		userCode:        auth.UserCode,
		verificationURI: auth.VerificationURI,
		status:          LoginPending,
		cancel:          cancel,
	}

	s.mu.Lock()
	s.sessions[session.id] = session
	view := s.view(session)
	s.mu.Unlock()

	go s.await(pollCtx, session, auth)

	s.logger.Infow("msg", "device login started", "host", host, "login_id", session.id)
	return view, nil
}

func (s *LoginService) await(ctx context.Context, session *loginSession, auth *oauth.DeviceAuthorization) {
	defer session.cancel()

	tokens, err := s.client.Poll(ctx, auth)
	if err != nil {
		status := LoginFailed
		if ctx.Err() != nil {
			status = LoginCanceled
		}
		s.finish(session, status, "", err)
		return
	}

	accountID, err := s.storeTokens(session, tokens)
	if err != nil {
		s.finish(session, LoginFailed, "", err)
		return
	}
	s.finish(session, LoginSuccess, accountID, nil)
}

// storeTokens lands the minted credential in the pool. A re-login with a
// credential the pool already holds updates that account instead of
// creating a duplicate.
func (s *LoginService) storeTokens(session *loginSession, tokens *oauth.TokenSet) (string, error) {
	ctx := context.Background()

	if existing := s.registry.FindByCredential(session.host, tokens.Refresh); existing != nil {
		if err := s.registry.UpdateAccountTokens(ctx, existing.ID, tokens.Access, tokens.Refresh, tokens.Expires); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	account, err := s.registry.AddAccount(ctx, biz.AccountInput{
		Label:   session.label,
		Host:    session.host,
		Refresh: tokens.Refresh,
		Access:  tokens.Access,
		Expires: tokens.Expires,
	})
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

func (s *LoginService) finish(session *loginSession, status, accountID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.status = status
	session.accountID = accountID
	if err != nil {
		session.errMsg = err.Error()
		s.logger.Warnw("msg", "device login ended", "login_id", session.id, "status", status, "error", err.Error())
		return
	}
	s.logger.Infow("msg", "device login ended", "login_id", session.id, "status", status)
}

// GetLogin reports a session's current state, or nil for unknown ids.
func (s *LoginService) GetLogin(id string) *LoginView {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return s.view(session)
}

// CancelLogin abandons a pending session. No-op for unknown ids.
func (s *LoginService) CancelLogin(id string) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		session.cancel()
	}
}

func (s *LoginService) view(session *loginSession) *LoginView {
	return &LoginView{
		ID:              session.id,
		Host:            session.host,
		UserCode:        session.userCode,
		VerificationURI: session.verificationURI,
		Status:          session.status,
		Error:           session.errMsg,
		AccountID:       session.accountID,
	}
}
