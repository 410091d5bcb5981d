package service

import (
	"context"
	"sync"
	"time"

	apperrors "telefeed/internal/errors"
	"telefeed/internal/models"
	"telefeed/internal/retry"
	"telefeed/pkg/telegram"
	"telefeed/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// SessionDatabase is the persistence surface the registry needs.
type SessionDatabase interface {
	SaveSession(ctx context.Context, session *models.AccountSession) error
	GetSession(ctx context.Context, account string) (*models.AccountSession, error)
	ListSessions(ctx context.Context) ([]models.AccountSession, error)
	DeleteSession(ctx context.Context, account string) error
}

// EventHandler consumes one upstream event. The registry guarantees events
// for a single account are handed over in arrival order.
type EventHandler interface {
	HandleEvent(ctx context.Context, event types.MessageEvent)
}

// SessionRegistry is the exclusive owner of upstream connections. All other
// components reach the platform through the gateway client the registry
// hands to the dispatcher; nothing else subscribes or authenticates.
type SessionRegistry struct {
	gateway telegram.Client
	db      SessionDatabase
	handler EventHandler
	backoff *retry.Backoff
	logger  *logrus.Logger

	mu           sync.Mutex
	loops        map[string]*accountLoop
	pendingCodes map[string]string
}

type accountLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSessionRegistry(gateway telegram.Client, db SessionDatabase, handler EventHandler, backoff *retry.Backoff, logger *logrus.Logger) *SessionRegistry {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionRegistry{
		gateway:      gateway,
		db:           db,
		handler:      handler,
		backoff:      backoff,
		logger:       logger,
		loops:        make(map[string]*accountLoop),
		pendingCodes: make(map[string]string),
	}
}

// Connect starts the lifecycle for one account. If a persisted session blob
// restores cleanly the account goes straight to authenticated and its event
// loop starts; otherwise an interactive code exchange begins and the caller
// must follow up with SubmitCredential.
func (r *SessionRegistry) Connect(ctx context.Context, account string) (models.ConnectResult, error) {
	stored, err := r.db.GetSession(ctx, account)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to load session")
	}

	if stored != nil && stored.AuthBlob != "" {
		if err := r.gateway.RestoreSession(ctx, account, stored.AuthBlob); err == nil {
			now := time.Now()
			stored.State = models.SessionAuthenticated
			stored.RestoredAt = &now
			stored.LastError = ""
			if err := r.db.SaveSession(ctx, stored); err != nil {
				return "", apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist session")
			}
			r.startLoop(account)
			r.logger.WithField("account", account).Info("Session restored")
			return models.ConnectRestored, nil
		} else if apperrors.IsRetryable(err) {
			return "", err
		} else {
			// Platform rejected the stored session; it is gone for good.
			now := time.Now()
			stored.State = models.SessionExpired
			stored.ExpiredAt = &now
			stored.AuthBlob = ""
			stored.LastError = err.Error()
			if saveErr := r.db.SaveSession(ctx, stored); saveErr != nil {
				r.logger.WithError(saveErr).Warn("Failed to persist expired session")
			}
			r.logger.WithField("account", account).Warn("Stored session rejected, falling back to interactive login")
		}
	}

	resp, err := r.gateway.RequestCode(ctx, account)
	if err != nil {
		return "", err
	}

	if resp.AlreadyAuthed {
		session := &models.AccountSession{Account: account, State: models.SessionAuthenticated}
		now := time.Now()
		session.ConnectedAt = &now
		if err := r.db.SaveSession(ctx, session); err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist session")
		}
		r.startLoop(account)
		return models.ConnectAuthenticated, nil
	}

	r.mu.Lock()
	r.pendingCodes[account] = resp.PhoneCodeHash
	r.mu.Unlock()

	session := &models.AccountSession{Account: account, State: models.SessionCodeRequested}
	if err := r.db.SaveSession(ctx, session); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist session")
	}

	r.logger.WithField("account", account).Info("Login code requested")
	return models.ConnectCodeRequested, nil
}

// SubmitCredential completes the interactive login with the code the
// operator received. Non-success results leave the account in its prior
// state; an expired code requires a fresh Connect.
func (r *SessionRegistry) SubmitCredential(ctx context.Context, account, code, password string) (models.CredentialResult, error) {
	r.mu.Lock()
	codeHash, ok := r.pendingCodes[account]
	r.mu.Unlock()
	if !ok {
		return "", apperrors.New(apperrors.ErrCodeAuthRequired, "no pending login for account, call Connect first")
	}

	resp, err := r.gateway.SubmitCode(ctx, types.SubmitCodeRequest{
		Account:       account,
		Code:          code,
		PhoneCodeHash: codeHash,
		Password:      password,
	})
	if err != nil {
		return "", err
	}

	switch resp.Status {
	case types.SubmitStatusOK:
		r.mu.Lock()
		delete(r.pendingCodes, account)
		r.mu.Unlock()

		now := time.Now()
		session := &models.AccountSession{
			Account:     account,
			State:       models.SessionAuthenticated,
			AuthBlob:    resp.AuthBlob,
			ConnectedAt: &now,
		}
		if err := r.db.SaveSession(ctx, session); err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist session")
		}
		r.startLoop(account)
		r.logger.WithField("account", account).Info("Account authenticated")
		return models.CredentialAccepted, nil

	case types.SubmitStatusIncorrect:
		return models.CredentialIncorrect, nil

	case types.SubmitStatusExpired:
		r.mu.Lock()
		delete(r.pendingCodes, account)
		r.mu.Unlock()
		return models.CredentialExpired, nil

	case types.SubmitStatusPasswordNeeded:
		return models.CredentialSecondFactorRequired, nil

	default:
		return "", apperrors.New(apperrors.ErrCodeInternalError, "unknown gateway login status: "+resp.Status)
	}
}

// Disconnect stops the account's event loop and marks it disconnected.
// Idempotent; in-flight deliveries finish on their own timeouts.
func (r *SessionRegistry) Disconnect(ctx context.Context, account string) error {
	r.stopLoop(account)

	stored, err := r.db.GetSession(ctx, account)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to load session")
	}
	if stored == nil {
		return nil
	}

	stored.State = models.SessionDisconnected
	if err := r.db.SaveSession(ctx, stored); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist session")
	}
	r.logger.WithField("account", account).Info("Account disconnected")
	return nil
}

// Logout disconnects and additionally invalidates the session upstream,
// discarding the stored auth blob.
func (r *SessionRegistry) Logout(ctx context.Context, account string) error {
	r.stopLoop(account)

	if err := r.gateway.Logout(ctx, account); err != nil && apperrors.GetCode(err) != apperrors.ErrCodeNotFound {
		return err
	}
	if err := r.db.DeleteSession(ctx, account); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to delete session")
	}
	r.logger.WithField("account", account).Info("Account logged out")
	return nil
}

// RestoreAll attempts to restore every persisted authenticated session at
// startup. Failures are logged per account and never abort the others.
func (r *SessionRegistry) RestoreAll(ctx context.Context) {
	sessions, err := r.db.ListSessions(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list sessions for restore")
		return
	}

	for _, session := range sessions {
		if session.AuthBlob == "" || session.State != models.SessionAuthenticated {
			continue
		}
		account := session.Account
		if _, err := r.Connect(ctx, account); err != nil {
			r.logger.WithField("account", account).WithError(err).Warn("Startup session restore failed")
		}
	}
}

// DescribeConversation resolves a conversation id to its title and kind, for
// operator diagnostics when composing rules.
func (r *SessionRegistry) DescribeConversation(ctx context.Context, account string, convo int64) (*types.Entity, error) {
	return r.gateway.GetEntity(ctx, account, convo)
}

// Sessions returns persisted session metadata for all accounts.
func (r *SessionRegistry) Sessions(ctx context.Context) ([]models.AccountSession, error) {
	sessions, err := r.db.ListSessions(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to list sessions")
	}
	return sessions, nil
}

// Shutdown stops every running account loop and waits for them to drain.
func (r *SessionRegistry) Shutdown() {
	r.mu.Lock()
	loops := make([]*accountLoop, 0, len(r.loops))
	for account, loop := range r.loops {
		loops = append(loops, loop)
		delete(r.loops, account)
	}
	r.mu.Unlock()

	for _, loop := range loops {
		loop.cancel()
		<-loop.done
	}
}

// startLoop launches the per-account event loop: subscribe, hand events to
// the dispatcher in order, resubscribe with backoff when the stream breaks.
// One goroutine per account keeps intra-account ordering while accounts run
// concurrently.
func (r *SessionRegistry) startLoop(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.loops[account]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &accountLoop{cancel: cancel, done: make(chan struct{})}
	r.loops[account] = loop

	go func() {
		defer close(loop.done)
		r.runLoop(ctx, account)
	}()
}

func (r *SessionRegistry) stopLoop(account string) {
	r.mu.Lock()
	loop, running := r.loops[account]
	if running {
		delete(r.loops, account)
	}
	r.mu.Unlock()

	if running {
		loop.cancel()
		<-loop.done
	}
}

func (r *SessionRegistry) runLoop(ctx context.Context, account string) {
	for ctx.Err() == nil {
		var events <-chan types.MessageEvent
		err := r.backoff.Retry(ctx, func() error {
			var subErr error
			events, subErr = r.gateway.Subscribe(ctx, account)
			return subErr
		})
		if err != nil {
			if ctx.Err() == nil {
				r.logger.WithField("account", account).WithError(err).Error("Giving up on event stream")
			}
			return
		}

	drain:
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					break drain
				}
				if event.Kind == types.EventSessionExpired {
					r.logger.WithField("account", account).Warn("Session expired upstream")
					r.markExpired(account)
					return
				}
				r.handler.HandleEvent(ctx, event)
			}
		}

		// Stream closed; resubscribe unless we are shutting down.
		if ctx.Err() == nil {
			r.logger.WithField("account", account).Info("Event stream ended, resubscribing")
		}
	}
}

func (r *SessionRegistry) markExpired(account string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stored, err := r.db.GetSession(ctx, account)
	if err != nil || stored == nil {
		return
	}
	now := time.Now()
	stored.State = models.SessionExpired
	stored.ExpiredAt = &now
	stored.AuthBlob = ""
	if err := r.db.SaveSession(ctx, stored); err != nil {
		r.logger.WithField("account", account).WithError(err).Warn("Failed to persist expired session")
	}

	r.mu.Lock()
	delete(r.loops, account)
	r.mu.Unlock()
}
