package plan

import (
	"context"

	"github.com/rs/zerolog"

	"plan_store/internal/consistenthash"
	"plan_store/internal/kvstore"
	"plan_store/internal/schema"
)

// Validator checks a decoded document and returns its violations.
type Validator interface {
	Validate(doc any) ([]schema.Violation, error)
}

// Result is what a read or a replace hands back. Document is nil when
// NotModified is set.
type Result struct {
	Document    map[string]any
	ETag        string
	NotModified bool
}

type Service struct {
	engine    *Engine
	validator Validator
	locker    consistenthash.KeyLocker
	planType  string
	log       zerolog.Logger
}

func NewService(store kvstore.Store, validator Validator, locker consistenthash.KeyLocker, planType string, log zerolog.Logger) *Service {
	return &Service{
		engine:    NewEngine(store, log),
		validator: validator,
		locker:    locker,
		planType:  planType,
		log:       log,
	}
}

func (s *Service) validate(doc map[string]any) error {
	if doc == nil {
		return ErrInvalidBody
	}
	violations, err := s.validator.Validate(doc)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func (s *Service) checkIdentity(doc map[string]any, objectID string) error {
	objectType, gotID, ok := Identity(doc)
	if !ok {
		return ErrMissingIdentity
	}
	if objectType != s.planType {
		return &IdentityMismatchError{Field: "objectType", Expected: s.planType, Got: objectType}
	}
	if objectID != "" && gotID != objectID {
		return &IdentityMismatchError{Field: "objectId", Expected: objectID, Got: gotID}
	}
	if !ValidRootPart(gotID) {
		return ErrInvalidIdentity
	}
	return nil
}

// rootKey maps a path objectId to its root key. An id holding the separator
// would name a key inside another document, and no plan is stored under it.
func (s *Service) rootKey(objectID string) (string, error) {
	if !ValidRootPart(objectID) {
		return "", ErrNotFound
	}
	return Key(s.planType, objectID), nil
}

func checkETag(stored, ifMatch string) error {
	if ifMatch == "" {
		return ErrETagRequired
	}
	if ifMatch != stored {
		return &PreconditionFailedError{ETag: stored}
	}
	return nil
}

func (s *Service) write(ctx context.Context, doc map[string]any) (string, string, error) {
	rootKey, err := s.engine.Flatten(ctx, doc)
	if err != nil {
		return "", "", err
	}
	etag, err := ETag(doc)
	if err != nil {
		return "", "", err
	}
	if err := s.engine.StoreETag(ctx, rootKey, etag); err != nil {
		return "", "", err
	}
	return rootKey, etag, nil
}

// Create stores a new document and returns its objectId and ETag.
func (s *Service) Create(ctx context.Context, doc map[string]any) (string, string, error) {
	if err := s.validate(doc); err != nil {
		return "", "", err
	}
	if err := s.checkIdentity(doc, ""); err != nil {
		return "", "", err
	}
	_, objectID, _ := Identity(doc)
	key := Key(s.planType, objectID)

	unlock := s.locker.Lock(key)
	defer unlock()

	exists, err := s.engine.Exists(ctx, key)
	if err != nil {
		return "", "", err
	}
	if exists {
		return "", "", ErrAlreadyExists
	}

	_, etag, err := s.write(ctx, doc)
	if err != nil {
		return "", "", err
	}
	s.log.Info().Str("key", key).Str("etag", etag).Msg("plan created")
	return objectID, etag, nil
}

// Get reads a document. When ifNoneMatch equals the stored ETag the
// document is not reconstructed.
func (s *Service) Get(ctx context.Context, objectID, ifNoneMatch string) (*Result, error) {
	key, err := s.rootKey(objectID)
	if err != nil {
		return nil, err
	}

	unlock := s.locker.RLock(key)
	defer unlock()

	exists, err := s.engine.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	etag, err := s.engine.LoadETag(ctx, key)
	if err != nil {
		return nil, err
	}
	if ifNoneMatch != "" && ifNoneMatch == etag {
		return &Result{ETag: etag, NotModified: true}, nil
	}

	doc, err := s.engine.Reconstruct(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Result{Document: doc, ETag: etag}, nil
}

// Delete removes a document whose ETag equals ifMatch.
func (s *Service) Delete(ctx context.Context, objectID, ifMatch string) error {
	key, err := s.rootKey(objectID)
	if err != nil {
		return err
	}

	unlock := s.locker.Lock(key)
	defer unlock()

	exists, err := s.engine.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	etag, err := s.engine.LoadETag(ctx, key)
	if err != nil {
		return err
	}
	if err := checkETag(etag, ifMatch); err != nil {
		return err
	}

	if err := s.engine.Delete(ctx, key); err != nil {
		return err
	}
	s.log.Info().Str("key", key).Msg("plan deleted")
	return nil
}

// Replace swaps the stored document for doc when ifMatch equals the stored
// ETag, and returns the document as read back together with its new ETag.
func (s *Service) Replace(ctx context.Context, objectID string, doc map[string]any, ifMatch string) (*Result, error) {
	key, err := s.rootKey(objectID)
	if err != nil {
		return nil, err
	}

	unlock := s.locker.Lock(key)
	defer unlock()

	exists, err := s.engine.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	if err := s.validate(doc); err != nil {
		return nil, err
	}
	if err := s.checkIdentity(doc, objectID); err != nil {
		return nil, err
	}
	if err := checkFieldNames(doc, true); err != nil {
		return nil, err
	}

	etag, err := s.engine.LoadETag(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkETag(etag, ifMatch); err != nil {
		return nil, err
	}

	if err := s.engine.Delete(ctx, key); err != nil {
		return nil, err
	}
	_, newETag, err := s.write(ctx, doc)
	if err != nil {
		return nil, err
	}
	stored, err := s.engine.Reconstruct(ctx, key)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("key", key).Str("etag", newETag).Msg("plan replaced")
	return &Result{Document: stored, ETag: newETag}, nil
}
