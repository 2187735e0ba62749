// Package services – RequestService
//
// This file implements RequestService, the application-level component that
// owns the study-request lifecycle: capacity-gated creation, the
// queued → processing → {completed | failed} state machine (plus
// queued → canceled), the one-material-per-request completion, and the
// compensating refund on failure.
//
// The capacity check and the debit are never two round-trips: creation
// wraps the request insert, the conditional used_credits increment, and
// the ledger append in one transaction, so two concurrent requests cannot
// both pass a check and both debit.
//
// Observability: public methods are OpenTelemetry-instrumented; spans
// include request/user identifiers.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/generation"
	"github.com/tbourn/go-study-backend/internal/repo"
)

const (
	// creditsPerRequest is the debit taken for one generation attempt.
	creditsPerRequest = 1

	debitReason  = "Study material generation"
	refundReason = "Refund: failed generation"
)

// TransitionPayload carries the columns written alongside a status change.
// Course is consumed on completion; Error on failure.
type TransitionPayload struct {
	Course *generation.Course
	Error  string
}

// RequestService coordinates request persistence, credit gating, and the
// external generation backend.
type RequestService struct {
	DB        *gorm.DB
	Generator generation.Generator

	// Model is the backend identifier stamped on requests.
	Model string
	// GenTimeout bounds one generation call; expiry is a failed request.
	GenTimeout time.Duration
	// MaxTopicRunes caps submitted topics by rune length.
	MaxTopicRunes int
}

// NewRequestService constructs a RequestService with the built-in outline
// backend and sane limits.
func NewRequestService(db *gorm.DB) *RequestService {
	g := generation.NewOutline()
	return &RequestService{
		DB:            db,
		Generator:     g,
		Model:         g.Model,
		GenTimeout:    30 * time.Second,
		MaxTopicRunes: 255,
	}
}

// Create validates the submission and persists a queued request. Active
// subscribers (unlimited, or pro before expiry) bypass the balance gate;
// everyone else is debited through a single conditional UPDATE inside the
// same transaction as the insert; insufficient remaining rolls the whole
// creation back with ErrInsufficientCredits.
func (s *RequestService) Create(ctx context.Context, userID, purpose, topic, difficulty string) (*domain.StudyRequest, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("purpose", purpose),
		),
	)
	defer span.End()

	if !domain.ValidPurpose(purpose) {
		return nil, ErrInvalidPurpose
	}
	if !domain.ValidDifficulty(difficulty) {
		return nil, ErrInvalidDifficulty
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if s.MaxTopicRunes > 0 && utf8.RuneCountInString(topic) > s.MaxTopicRunes {
		return nil, ErrTopicTooLong
	}

	var req *domain.StudyRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := repo.GetUser(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		prompt := generation.PromptFor(purpose, topic, difficulty)
		r, err := repo.CreateStudyRequest(ctx, tx, userID, purpose, topic, difficulty, s.Model, prompt, creditsPerRequest)
		if err != nil {
			return err
		}

		if !HasActiveSubscription(user, time.Now().UTC()) {
			taken, err := repo.SpendCreditsIfAvailable(ctx, tx, userID, creditsPerRequest)
			if err != nil {
				return err
			}
			if !taken {
				return ErrInsufficientCredits
			}
			if _, err := repo.AppendLedgerEntry(ctx, tx, userID, &r.ID, -creditsPerRequest, debitReason); err != nil {
				return err
			}
		}

		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Transition moves a request along the state machine. Undefined edges and
// moves out of a terminal state return ErrInvalidTransition; re-delivered
// completions and failures are no-ops rather than errors.
func (s *RequestService) Transition(ctx context.Context, requestID, newStatus string, payload TransitionPayload) error {
	switch newStatus {
	case domain.StatusProcessing:
		return s.markProcessing(ctx, requestID)
	case domain.StatusCompleted:
		_, err := s.complete(ctx, requestID, payload.Course)
		return err
	case domain.StatusFailed:
		return s.fail(ctx, requestID, payload.Error)
	case domain.StatusCanceled:
		return s.cancelByID(ctx, requestID)
	default:
		return ErrInvalidTransition
	}
}

// Process runs the generation pipeline for a queued request: it claims the
// request (queued → processing), invokes the backend under the configured
// timeout, and lands the result. A backend error or timeout is recovered
// into a failed request with the compensating refund rather than returned
// as an error; only storage faults propagate.
func (s *RequestService) Process(ctx context.Context, requestID string) (*domain.StudyRequest, *domain.StudyMaterial, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
	defer span.End()

	if err := s.markProcessing(ctx, requestID); err != nil {
		return nil, nil, err
	}

	req, err := repo.GetStudyRequest(ctx, s.DB, requestID)
	if err != nil {
		return nil, nil, err
	}

	gctx := ctx
	if s.GenTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, s.GenTimeout)
		defer cancel()
	}

	course, genErr := s.Generator.Generate(gctx, req.Purpose, req.Topic, req.Difficulty)
	if genErr != nil {
		if err := s.fail(ctx, requestID, genErr.Error()); err != nil {
			return nil, nil, err
		}
		failed, err := repo.GetStudyRequest(ctx, s.DB, requestID)
		return failed, nil, err
	}

	mat, err := s.complete(ctx, requestID, course)
	if err != nil {
		return nil, nil, err
	}
	done, err := repo.GetStudyRequest(ctx, s.DB, requestID)
	return done, mat, err
}

// Cancel moves a queued request owned by userID to canceled. Any other
// source state is ErrInvalidTransition; the consumed credit stays spent.
func (s *RequestService) Cancel(ctx context.Context, requestID, userID string) error {
	if _, err := repo.GetOwnedStudyRequest(ctx, s.DB, requestID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRequestNotFound
		}
		return err
	}
	return s.cancelByID(ctx, requestID)
}

// Get fetches one request owned by userID.
func (s *RequestService) Get(ctx context.Context, requestID, userID string) (*domain.StudyRequest, error) {
	r, err := repo.GetOwnedStudyRequest(ctx, s.DB, requestID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return r, nil
}

// GetMaterial fetches a generated material by id. Materials are readable by
// any authenticated user; the dashboard projection handles ownership.
func (s *RequestService) GetMaterial(ctx context.Context, id string) (*domain.StudyMaterial, error) {
	m, err := repo.GetStudyMaterial(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMaterialNotFound
		}
		return nil, err
	}
	return m, nil
}

// ListPage returns a page of the user's request history, newest first.
// It applies defaults for invalid page/pageSize and returns total count.
func (s *RequestService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.StudyRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountStudyRequests(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.StudyRequest{}, 0, nil
	}

	items, err := repo.ListStudyRequestsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// markProcessing claims a queued request for the pipeline.
func (s *RequestService) markProcessing(ctx context.Context, requestID string) error {
	ok, err := repo.TransitionStudyRequest(ctx, s.DB, requestID, domain.StatusProcessing,
		[]string{domain.StatusQueued}, nil)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionConflict(ctx, requestID)
	}
	return nil
}

// complete lands a successful generation: processing → completed plus
// exactly one StudyMaterial bound to the request. A redelivered completion
// for an already-completed request returns the existing material without
// error.
func (s *RequestService) complete(ctx context.Context, requestID string, course *generation.Course) (*domain.StudyMaterial, error) {
	if course == nil {
		return nil, ErrInvalidTransition
	}

	var mat *domain.StudyMaterial
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := repo.GetStudyRequest(ctx, tx, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return err
		}
		if req.Status == domain.StatusCompleted {
			// Redelivery: keep the original artifact.
			m, err := repo.GetMaterialByRequest(ctx, tx, requestID)
			if err != nil {
				return err
			}
			mat = m
			return nil
		}

		layout, err := json.Marshal(course)
		if err != nil {
			return err
		}

		ok, err := repo.TransitionStudyRequest(ctx, tx, requestID, domain.StatusCompleted,
			[]string{domain.StatusProcessing}, map[string]any{"output": string(layout)})
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}

		m, err := repo.CreateStudyMaterial(ctx, tx, &req.ID, course.Topic, req.Difficulty, datatypes.JSON(layout), req.UserID)
		if err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				m, err = repo.GetMaterialByRequest(ctx, tx, requestID)
				if err != nil {
					return err
				}
				mat = m
				return nil
			}
			return err
		}
		mat = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mat, nil
}

// fail lands a failed generation and restores the spent credit. The refund
// mirrors the debit recorded for this request: nothing was debited for
// active subscribers, so nothing is refunded; a second failure delivery
// finds the refund entry already present and does not double-refund.
func (s *RequestService) fail(ctx context.Context, requestID, message string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := repo.GetStudyRequest(ctx, tx, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return err
		}
		if req.Status == domain.StatusFailed {
			return nil // redelivery
		}

		ok, err := repo.TransitionStudyRequest(ctx, tx, requestID, domain.StatusFailed,
			[]string{domain.StatusQueued, domain.StatusProcessing},
			map[string]any{"error": message})
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}

		debited, err := repo.RequestDebitTotal(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if debited == 0 {
			return nil
		}
		refunded, err := repo.RequestHasRefund(ctx, tx, requestID)
		if err != nil || refunded {
			return err
		}
		if err := repo.AddCredits(ctx, tx, req.UserID, debited); err != nil {
			return err
		}
		_, err = repo.AppendLedgerEntry(ctx, tx, req.UserID, &req.ID, debited, refundReason)
		return err
	})
}

// cancelByID applies the queued → canceled edge.
func (s *RequestService) cancelByID(ctx context.Context, requestID string) error {
	ok, err := repo.TransitionStudyRequest(ctx, s.DB, requestID, domain.StatusCanceled,
		[]string{domain.StatusQueued}, nil)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionConflict(ctx, requestID)
	}
	return nil
}

// transitionConflict distinguishes a missing request from a state machine
// violation after a guarded UPDATE touched zero rows.
func (s *RequestService) transitionConflict(ctx context.Context, requestID string) error {
	if _, err := repo.GetStudyRequest(ctx, s.DB, requestID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRequestNotFound
		}
		return err
	}
	return ErrInvalidTransition
}
