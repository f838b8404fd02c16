package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
	"github.com/nvoronin/tradeschool/backend/internal/domain/model"
	"github.com/nvoronin/tradeschool/backend/internal/infra/commerceapi"
	pgrepo "github.com/nvoronin/tradeschool/backend/internal/repo/postgres"
)

type Backend interface {
	GetPurchase(ctx context.Context, purchaseID string) (commerceapi.PurchaseRecord, error)
}

type Journal interface {
	ListUnresolvedUsers(ctx context.Context) ([]int64, error)
	ListUnresolved(ctx context.Context, userID int64) ([]pgrepo.AttemptRecord, error)
	TransitionStatus(ctx context.Context, purchaseID, from, to string) (bool, error)
}

type Watchlist interface {
	AddWatched(ctx context.Context, userID int64, purchaseID string) error
	RemoveWatched(ctx context.Context, userID int64, purchaseID string) error
}

type Notifier interface {
	NotifyPurchaseResolved(ctx context.Context, purchaseID, productID, status string) error
}

type Archiver interface {
	Archive(ctx context.Context, attempt model.PurchaseAttempt) (string, error)
}

type Config struct {
	Interval     time.Duration
	ServiceToken string
}

// Reconciler sweeps unresolved purchase attempts and settles the ones the
// backend has already decided. It is the safety net behind the interactive
// poller: a crashed session, a closed tab, or a lost redis watch-list all
// converge here.
type Reconciler struct {
	backend   Backend
	journal   Journal
	watchlist Watchlist
	notifier  Notifier
	archiver  Archiver
	logger    *zap.Logger

	interval     time.Duration
	serviceToken string
	now          func() time.Time
}

type Dependencies struct {
	Backend   Backend
	Journal   Journal
	Watchlist Watchlist
	Notifier  Notifier
	Archiver  Archiver
	Logger    *zap.Logger
}

func New(deps Dependencies, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		backend:      deps.Backend,
		journal:      deps.Journal,
		watchlist:    deps.Watchlist,
		notifier:     deps.Notifier,
		archiver:     deps.Archiver,
		logger:       logger,
		interval:     cfg.Interval,
		serviceToken: cfg.ServiceToken,
		now:          time.Now,
	}
}

// Run executes sweeps on the configured interval until ctx is cancelled. The
// first sweep runs immediately so a restart settles stale attempts without
// waiting a full interval.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	if r.backend == nil || r.journal == nil {
		r.logger.Warn("reconciler missing backend or journal, skipping sweep")
		return
	}
	if r.serviceToken != "" {
		ctx = commerceapi.ContextWithToken(ctx, r.serviceToken)
	}

	userIDs, err := r.journal.ListUnresolvedUsers(ctx)
	if err != nil {
		r.logger.Error("list unresolved users failed", zap.Error(err))
		return
	}

	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		r.sweepUser(ctx, userID)
	}
}

func (r *Reconciler) sweepUser(ctx context.Context, userID int64) {
	records, err := r.journal.ListUnresolved(ctx, userID)
	if err != nil {
		r.logger.Error("list unresolved attempts failed",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return
	}

	for _, record := range records {
		if record.PurchaseID == nil || *record.PurchaseID == "" {
			// Never initiated; nothing to resolve against the backend.
			continue
		}
		r.reconcileAttempt(ctx, userID, record)
	}
}

func (r *Reconciler) reconcileAttempt(ctx context.Context, userID int64, record pgrepo.AttemptRecord) {
	purchaseID := *record.PurchaseID

	// The journal may outlive the redis watch-list; restore tracking before
	// anything else so the interactive path can pick the purchase up again.
	if r.watchlist != nil {
		if err := r.watchlist.AddWatched(ctx, userID, purchaseID); err != nil {
			r.logger.Warn("watchlist restore failed",
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
		}
	}

	remote, err := r.backend.GetPurchase(ctx, purchaseID)
	if err != nil {
		if commerceapi.IsNotFound(err) {
			r.expireIfOverdue(ctx, userID, record)
			return
		}
		r.logger.Warn("reconcile fetch failed, will retry next sweep",
			zap.String("purchase_id", purchaseID),
			zap.Error(err),
		)
		return
	}

	status, ok := enums.ParsePurchaseStatus(remote.Status)
	if !ok || !status.Terminal() {
		r.expireIfOverdue(ctx, userID, record)
		return
	}

	r.settle(ctx, userID, record, status)
}

// expireIfOverdue expires an attempt whose payment window has lapsed with no
// backend resolution in sight.
func (r *Reconciler) expireIfOverdue(ctx context.Context, userID int64, record pgrepo.AttemptRecord) {
	if record.ExpiresAt == nil || record.ExpiresAt.After(r.now()) {
		return
	}
	current, ok := enums.ParsePurchaseStatus(record.Status)
	if !ok || current.Terminal() {
		return
	}

	r.settle(ctx, userID, record, enums.PurchaseStatusExpired)
}

func (r *Reconciler) settle(ctx context.Context, userID int64, record pgrepo.AttemptRecord, status enums.PurchaseStatus) {
	purchaseID := *record.PurchaseID

	changed, err := r.journal.TransitionStatus(ctx, purchaseID, record.Status, string(status))
	if err != nil {
		r.logger.Error("journal settle failed",
			zap.String("purchase_id", purchaseID),
			zap.Error(err),
		)
		return
	}
	if !changed {
		// Another sweep or the interactive poller settled it first.
		return
	}

	attempt := attemptFromRecord(userID, record, status)

	if r.archiver != nil {
		if _, err := r.archiver.Archive(ctx, attempt); err != nil {
			r.logger.Warn("receipt archive failed",
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
		}
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyPurchaseResolved(ctx, purchaseID, record.ProductID, string(status)); err != nil {
			r.logger.Warn("resolution notification failed",
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
		}
	}

	if r.watchlist != nil {
		if err := r.watchlist.RemoveWatched(ctx, userID, purchaseID); err != nil {
			r.logger.Warn("watchlist remove failed",
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
		}
	}

	r.logger.Info("purchase attempt settled",
		zap.String("purchase_id", purchaseID),
		zap.String("status", string(status)),
	)
}

func attemptFromRecord(userID int64, record pgrepo.AttemptRecord, status enums.PurchaseStatus) model.PurchaseAttempt {
	attempt := model.PurchaseAttempt{
		ID:         *record.PurchaseID,
		AttemptKey: record.AttemptKey,
		UserID:     userID,
		ProductID:  record.ProductID,
		Status:     status,
		DueAmount:  record.DueAmount,
		ExpiresAt:  record.ExpiresAt,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
	if method, ok := enums.ParsePaymentMethod(record.Method); ok {
		attempt.Method = method
	}
	if record.PaymentAddress != nil {
		attempt.PaymentAddress = *record.PaymentAddress
	}
	if record.PaymentAmount != nil {
		attempt.PaymentAmount = *record.PaymentAmount
	}
	if record.CheckoutURL != nil {
		attempt.CheckoutURL = *record.CheckoutURL
	}
	if record.ProofReference != nil {
		attempt.ProofReference = *record.ProofReference
	}
	return attempt
}
