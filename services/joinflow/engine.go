package joinflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc"

	"groupwatch/models"
	"groupwatch/services/joinapi"
	"groupwatch/services/stremio"
)

const (
	defaultPendingInterval  = 2 * time.Second
	defaultAcceptedInterval = 5 * time.Second
	defaultWatchInterval    = 5 * time.Second
	defaultCatchUpDelay     = 500 * time.Millisecond

	// A completion that fails retryably is attempted at most this many
	// times per authorization code.
	maxCompletionFailures = 3

	// After a successful completion the backend read path may briefly keep
	// reporting the old status; the catch-up loop refetches on a short
	// cadence until it flips.
	catchUpAttempts = 10
)

var (
	// ErrNotSubmitted is returned by Run when neither Submit nor Resume
	// established a submitted identity for the invitation code.
	ErrNotSubmitted = errors.New("no join request submitted for this invitation")

	errStatusLagging = errors.New("status not yet completed")
)

// API is the server surface the engine drives. *joinapi.Client implements it.
type API interface {
	Invitation(code string) (*joinapi.Invitation, error)
	Status(code, email, username string) (*models.JoinRequestStatus, error)
	Submit(code, email, username string) error
	GenerateLink(code, email, username string) (*models.JoinRequestStatus, error)
	Complete(code, email, username, authKey, groupName string) error
}

// LinkReader asks the third-party provider whether an authorization code has
// been approved. *stremio.Client implements it.
type LinkReader interface {
	ReadLink(code string) (*stremio.LinkReadResult, error)
}

// Options configures an Engine. API, Store and InvitationCode are required;
// Links may be nil only when ExternalWatch is set.
type Options struct {
	API            API
	Links          LinkReader
	Store          *IdentityStore
	InvitationCode string

	// Poll cadences; zero values take the defaults.
	PendingInterval  time.Duration
	AcceptedInterval time.Duration
	WatchInterval    time.Duration
	CatchUpDelay     time.Duration

	// ExternalWatch suppresses the engine's own authorization watcher. The
	// embedding caller polls the provider itself and hands positive results
	// to HandleAuthorization; completion stays owned by the engine. At most
	// one watcher per authorization code may exist, so this must be set
	// whenever another component polls the provider for the same code.
	ExternalWatch bool

	Notifier Notifier
	Logger   *log.Logger
}

// Engine drives one join request from submission to membership. It polls
// the server for the request status, reconciles each snapshot into derived
// transitions, watches the provider for a granted authorization, and
// converts that authorization into a member exactly once.
//
// All mutable state sits behind one mutex; the poll loop, the watcher and
// completion goroutines only touch it through that lock.
type Engine struct {
	api      API
	links    LinkReader
	store    *IdentityStore
	notifier Notifier
	logger   *log.Logger
	code     string

	pendingInterval  time.Duration
	acceptedInterval time.Duration
	watchInterval    time.Duration
	catchUpDelay     time.Duration
	externalWatch    bool

	refresh chan struct{}
	wg      conc.WaitGroup

	mu          sync.Mutex
	identity    models.PersistedIdentity
	rec         Reconciler
	current     *Snapshot
	state       State
	attempted   map[string]bool
	failures    map[string]int
	stopped     bool
	watchGen    int
	watchCancel context.CancelFunc
	runCtx      context.Context
}

// NewEngine validates opts and builds an engine. It performs no I/O.
func NewEngine(opts Options) (*Engine, error) {
	if opts.API == nil {
		return nil, errors.New("api client is required")
	}
	if opts.Store == nil {
		return nil, errors.New("identity store is required")
	}
	if opts.InvitationCode == "" {
		return nil, errors.New("invitation code is required")
	}
	if opts.Links == nil && !opts.ExternalWatch {
		return nil, errors.New("link reader is required unless watching is external")
	}
	if opts.PendingInterval <= 0 {
		opts.PendingInterval = defaultPendingInterval
	}
	if opts.AcceptedInterval <= 0 {
		opts.AcceptedInterval = defaultAcceptedInterval
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = defaultWatchInterval
	}
	if opts.CatchUpDelay <= 0 {
		opts.CatchUpDelay = defaultCatchUpDelay
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Engine{
		api:              opts.API,
		links:            opts.Links,
		store:            opts.Store,
		notifier:         opts.Notifier,
		logger:           opts.Logger,
		code:             opts.InvitationCode,
		pendingInterval:  opts.PendingInterval,
		acceptedInterval: opts.AcceptedInterval,
		watchInterval:    opts.WatchInterval,
		catchUpDelay:     opts.CatchUpDelay,
		externalWatch:    opts.ExternalWatch,
		refresh:          make(chan struct{}, 1),
		attempted:        make(map[string]bool),
		failures:         make(map[string]int),
	}, nil
}

// Resume loads the persisted identity for the invitation code. The
// submitted flag survives the reload only when the stored record carries a
// full identity, so a half-typed form never resumes into the status flow.
func (e *Engine) Resume() (models.PersistedIdentity, error) {
	identity, err := e.store.LoadForResume(e.code)
	if err != nil {
		return models.PersistedIdentity{}, err
	}

	e.mu.Lock()
	e.identity = identity
	e.mu.Unlock()
	return identity, nil
}

// Submit registers the join request and persists the identity. A server
// answer of REQUEST_EXISTS means a prior submission (another tab, an
// interrupted session) already created this request; that confirmation is
// the one path besides an explicit submit that may mark the identity
// submitted.
//
// Submitting is also the restart after a dead request: it clears a persisted
// email mismatch and reopens an engine stopped by a terminal outcome.
func (e *Engine) Submit(email, username string) error {
	err := e.api.Submit(e.code, email, username)
	if err != nil && joinapi.ErrorCode(err) != joinapi.CodeRequestExists {
		return err
	}
	if err != nil {
		e.logger.Printf("[joinflow] request already on file for %s, resuming it", email)
	} else {
		e.logger.Printf("[joinflow] join request submitted for %s", email)
	}

	submitted := true
	mismatch := false
	patch := models.IdentityPatch{Email: &email, Username: &username, Submitted: &submitted, EmailMismatch: &mismatch}
	if err := e.store.Save(e.code, patch); err != nil {
		e.logger.Printf("[joinflow] failed to persist identity: %v", err)
	}

	e.mu.Lock()
	e.identity.Email = email
	e.identity.Username = username
	e.identity.Submitted = true
	e.identity.EmailMismatch = false
	// Drop whatever the engine learned about the previous request. Completion
	// attempts stay counted per auth code, so a resubmit never reopens an
	// exhausted code.
	e.cancelWatchLocked()
	e.current = nil
	e.rec = Reconciler{}
	e.state = StateUnknown
	e.stopped = false
	e.mu.Unlock()
	return nil
}

// Run polls the join request until it reaches a terminal state or ctx is
// cancelled, and returns the final state. Submit or Resume must have
// established a submitted identity first; without one there is nothing to
// track and Run returns ErrNotSubmitted.
func (e *Engine) Run(ctx context.Context) (State, error) {
	e.mu.Lock()
	if !e.identity.Submitted {
		e.mu.Unlock()
		return StateUnknown, ErrNotSubmitted
	}
	e.runCtx = ctx
	e.mu.Unlock()

	inv, err := e.api.Invitation(e.code)
	if err != nil {
		if joinapi.IsNotFound(err) {
			e.logger.Printf("[joinflow] invitation %s no longer exists, clearing local state", e.code)
			e.reset()
			e.setState(StateNotFound, nil)
			return StateNotFound, nil
		}
		return StateUnknown, fmt.Errorf("invitation lookup failed: %w", err)
	}
	if !inv.Enabled {
		e.logger.Printf("[joinflow] invitation %s is disabled", e.code)
		e.setState(StateInvitationDisabled, nil)
		return StateInvitationDisabled, nil
	}

	e.logger.Printf("[joinflow] tracking join request for invitation %s", e.code)
	defer e.shutdown()

	for {
		if st := e.State(); st.Terminal() {
			return st, nil
		}

		snap, err := e.fetchStatus()
		switch {
		case err == nil:
			e.apply(snap)
		case joinapi.IsNotFound(err):
			e.logger.Printf("[joinflow] join request is gone, clearing local state")
			e.reset()
			e.setState(StateNotFound, nil)
			return StateNotFound, nil
		default:
			// Transient; the next tick retries.
			e.logger.Printf("[joinflow] status fetch failed: %v", err)
		}

		if st := e.State(); st.Terminal() {
			return st, nil
		}

		timer := time.NewTimer(e.pollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return e.State(), ctx.Err()
		case <-timer.C:
		case <-e.refresh:
			timer.Stop()
		}
	}
}

// GenerateLink asks the server for a fresh authorization link and feeds the
// result straight through the reconciler, so the rotation takes effect
// without waiting out the next poll tick.
func (e *Engine) GenerateLink() (*Snapshot, error) {
	e.mu.Lock()
	email, username := e.identity.Email, e.identity.Username
	e.mu.Unlock()

	status, err := e.api.GenerateLink(e.code, email, username)
	if err != nil {
		return nil, err
	}

	snap := Snapshot{JoinRequestStatus: *status, FetchedAt: time.Now()}
	e.apply(snap)
	e.kick()
	return &snap, nil
}

// HandleAuthorization feeds an externally observed authorization into the
// engine. Used with ExternalWatch, where the embedding caller polls the
// provider itself. Dispatch rules are identical to the internal watcher's:
// the code must match the current snapshot and must not already be
// attempted or exhausted.
func (e *Engine) HandleAuthorization(code string, res *stremio.LinkReadResult) {
	if res == nil || !res.Success || res.AuthKey == "" {
		return
	}
	e.authorize(code, res.AuthKey, res.User)
}

// State returns the last derived state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Current returns a copy of the freshest accepted snapshot, or nil before
// the first successful poll.
func (e *Engine) Current() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	snap := *e.current
	return &snap
}

// Generation returns the link rotation counter.
func (e *Engine) Generation() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Generation()
}

// Identity returns the identity the engine currently tracks.
func (e *Engine) Identity() models.PersistedIdentity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity
}

// fetchStatus polls the status endpoint once and stamps the arrival time.
func (e *Engine) fetchStatus() (Snapshot, error) {
	e.mu.Lock()
	email, username := e.identity.Email, e.identity.Username
	e.mu.Unlock()

	status, err := e.api.Status(e.code, email, username)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{JoinRequestStatus: *status, FetchedAt: time.Now()}, nil
}

// apply runs a snapshot through the reconciler and reacts to the derived
// changes: watcher lifecycle, state emission, log lines. Stale snapshots
// fall out here without side effects.
func (e *Engine) apply(snap Snapshot) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	changes, ok := e.rec.Apply(snap)
	if !ok {
		e.mu.Unlock()
		return
	}
	e.current = &snap

	for _, ch := range changes {
		switch ch.Update {
		case UpdateLinkCleared:
			e.logger.Printf("[joinflow] authorization link cleared, a new one must be generated")
		case UpdateLinkIssued, UpdateCodeChanged:
			e.logger.Printf("[joinflow] authorization link rotated (generation %d)", e.rec.Generation())
		case UpdateStatusChanged:
			e.logger.Printf("[joinflow] request status changed: %s -> %s", ch.From, ch.To)
		case UpdateCompleted:
			e.logger.Printf("[joinflow] membership confirmed by server")
		}
	}

	e.syncWatcherLocked()

	st := DeriveState(e.identity, e.current, e.rec.Renewed(), time.Now())
	changed := st != e.state
	e.state = st
	e.mu.Unlock()

	if changed {
		e.notifier.State(st, &snap)
	}
}

// syncWatcherLocked starts or stops the authorization watcher so exactly one
// is running whenever the current snapshot warrants it. A watcher belongs to
// one generation; rotating the link cancels it and starts a fresh one.
// Callers hold e.mu.
func (e *Engine) syncWatcherLocked() {
	if e.externalWatch {
		return
	}

	snap := e.current
	eligible := !e.stopped &&
		!e.identity.EmailMismatch &&
		snap != nil &&
		snap.Status == models.RequestAccepted &&
		snap.AuthCode() != "" &&
		!snap.Expired(time.Now()) &&
		e.failures[snap.AuthCode()] < maxCompletionFailures

	if !eligible {
		e.cancelWatchLocked()
		return
	}

	gen := e.rec.Generation()
	if e.watchCancel != nil && e.watchGen == gen {
		return
	}
	e.cancelWatchLocked()

	ctx, cancel := context.WithCancel(context.Background())
	e.watchCancel = cancel
	e.watchGen = gen
	code := snap.AuthCode()

	e.logger.Printf("[joinflow] watching authorization code (generation %d)", gen)
	e.wg.Go(func() { e.watch(ctx, gen, code) })
}

func (e *Engine) cancelWatchLocked() {
	if e.watchCancel != nil {
		e.watchCancel()
		e.watchCancel = nil
	}
}

// watch polls the provider for one authorization code until the code
// rotates away, expires, or resolves. Provider transport errors and
// malformed answers are skipped; the endpoint is best-effort and the next
// tick will ask again.
func (e *Engine) watch(ctx context.Context, gen int, code string) {
	ticker := time.NewTicker(e.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		snap := e.current
		live := !e.stopped && e.watchGen == gen && !e.identity.EmailMismatch &&
			snap != nil && snap.Status == models.RequestAccepted && snap.AuthCode() == code
		expired := snap != nil && snap.Expired(time.Now())
		e.mu.Unlock()
		if !live || expired {
			return
		}

		res, err := e.links.ReadLink(code)
		if err != nil || res == nil || !res.Success || res.AuthKey == "" {
			continue
		}
		e.authorize(code, res.AuthKey, res.User)
	}
}

// authorize is the single entry point for positive authorization results,
// from the engine's own watcher or an external one. The attempted mark is
// test-and-set under the lock, so for any code at most one completion is
// ever in flight, and a code that resolved terminally is never re-entered.
func (e *Engine) authorize(code, authKey string, user *stremio.LinkUser) {
	e.mu.Lock()
	snap := e.current
	if e.stopped || snap == nil || snap.AuthCode() != code || snap.Status == models.RequestCompleted {
		e.mu.Unlock()
		return
	}
	if e.attempted[code] {
		e.mu.Unlock()
		return
	}
	if e.failures[code] >= maxCompletionFailures {
		e.cancelWatchLocked()
		e.mu.Unlock()
		return
	}
	e.attempted[code] = true

	// The identity the admin reviewed wins; the provider's account details
	// only fill gaps the server left open.
	email, username := snap.Email, snap.Username
	if email == "" {
		email = e.identity.Email
	}
	if username == "" {
		username = e.identity.Username
	}
	if email == "" && user != nil {
		email = user.Email
	}
	if username == "" && user != nil {
		username = user.Username
	}
	groupName := snap.GroupName
	e.mu.Unlock()

	e.logger.Printf("[joinflow] authorization granted, completing membership")
	e.wg.Go(func() { e.complete(code, email, username, authKey, groupName) })
}

// complete performs the one authoritative conversion call and classifies
// its outcome.
func (e *Engine) complete(code, email, username, authKey, groupName string) {
	err := e.api.Complete(e.code, email, username, authKey, groupName)
	if err == nil {
		e.finishCompletion()
		return
	}

	var apiErr *joinapi.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == joinapi.CodeEmailMismatch:
			e.markEmailMismatch()
			return
		case apiErr.Code == joinapi.CodeUserExists, apiErr.StatusCode == http.StatusConflict:
			// The account already exists; the request reached its goal,
			// possibly through another tab or a prior attempt.
			e.logger.Printf("[joinflow] membership already existed, treating as completed")
			e.finishCompletion()
			return
		case apiErr.StatusCode == http.StatusNotFound:
			e.resolveMissingOnComplete(code)
			return
		case apiErr.Code == joinapi.CodeAuthKeyInvalid:
			e.recordFailure(code, err, true)
			return
		}
	}
	e.recordFailure(code, err, false)
}

// finishCompletion announces success and refetches until the backend's own
// read path reports completed, masking replica or cache lag. The loop is
// bounded; the regular poller takes over if the backend is still behind
// afterwards.
func (e *Engine) finishCompletion() {
	e.notifier.Notice(NoticeSuccess, "Membership created. Sign in with your Stremio account to start watching.")

	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	err := retry.Do(
		func() error {
			snap, err := e.fetchStatus()
			if err != nil {
				return err
			}
			e.apply(snap)
			if snap.Status != models.RequestCompleted {
				return errStatusLagging
			}
			return nil
		},
		retry.Attempts(catchUpAttempts),
		retry.Delay(e.catchUpDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		e.logger.Printf("[joinflow] status still catching up after completion: %v", err)
	}
	e.kick()
}

// resolveMissingOnComplete handles a 404 from the completion endpoint: when
// the request meanwhile reads completed the outcome is a success, otherwise
// the tracked record is dead and the watcher goes quiet without surfacing
// anything.
func (e *Engine) resolveMissingOnComplete(code string) {
	snap, err := e.fetchStatus()
	if err == nil && snap.Status == models.RequestCompleted {
		e.apply(snap)
		e.finishCompletion()
		return
	}

	e.logger.Printf("[joinflow] completion target vanished, stopping watcher")
	e.mu.Lock()
	e.cancelWatchLocked()
	e.mu.Unlock()
}

// markEmailMismatch records the one completion failure that must survive
// restarts: the provider account's email does not match the reviewed
// request. Everything stops; only a fresh request can recover.
func (e *Engine) markEmailMismatch() {
	e.logger.Printf("[joinflow] provider account email does not match the request, stopping")

	e.mu.Lock()
	e.identity.EmailMismatch = true
	e.stopped = true
	e.cancelWatchLocked()
	e.state = StateEmailMismatch
	snap := e.current
	e.mu.Unlock()

	mismatch := true
	if err := e.store.Save(e.code, models.IdentityPatch{EmailMismatch: &mismatch}); err != nil {
		e.logger.Printf("[joinflow] failed to persist mismatch flag: %v", err)
	}

	e.notifier.State(StateEmailMismatch, snap)
	e.notifier.Notice(NoticeError, "The Stremio account you authorized uses a different email than this request. Submit a new request with the matching account.")
	e.kick()
}

// recordFailure counts a retryable completion failure and reopens the code
// for another attempt while the cap allows. Auth-key verification noise is
// surfaced only when the cap is hit; other errors notify on every attempt.
func (e *Engine) recordFailure(code string, cause error, authKey bool) {
	e.mu.Lock()
	e.failures[code]++
	count := e.failures[code]
	delete(e.attempted, code)
	exhausted := count >= maxCompletionFailures
	if exhausted {
		e.cancelWatchLocked()
	}
	e.mu.Unlock()

	e.logger.Printf("[joinflow] completion attempt %d/%d failed: %v", count, maxCompletionFailures, cause)

	if exhausted {
		e.notifier.Notice(NoticeError, "Completing the membership kept failing. Generate a new authorization link and try again.")
		return
	}
	if !authKey {
		e.notifier.Notice(NoticeError, "Completing the membership failed. It will be retried on the next authorization check.")
	}
}

// reset wipes every local trace of the request. Used when the server says
// the tracked record no longer exists; keeping a submitted flag around
// would pin every future visit to a dead request.
func (e *Engine) reset() {
	e.mu.Lock()
	e.identity = models.PersistedIdentity{}
	e.stopped = true
	e.cancelWatchLocked()
	e.mu.Unlock()

	if err := e.store.Clear(e.code); err != nil {
		e.logger.Printf("[joinflow] failed to clear identity record: %v", err)
	}
}

func (e *Engine) setState(st State, snap *Snapshot) {
	e.mu.Lock()
	changed := st != e.state
	e.state = st
	e.mu.Unlock()

	if changed {
		e.notifier.State(st, snap)
	}
}

// pollInterval picks the cadence from the last observed status. A request
// that was never fetched polls at the pending cadence, the faster of the
// two.
func (e *Engine) pollInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.Status == models.RequestPending {
		return e.pendingInterval
	}
	return e.acceptedInterval
}

// kick wakes the poll loop without waiting out the current interval.
func (e *Engine) kick() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

// shutdown tears down the watcher and waits for in-flight goroutines.
func (e *Engine) shutdown() {
	e.mu.Lock()
	e.cancelWatchLocked()
	e.mu.Unlock()
	e.wg.Wait()
}
