// Package identify is the identification service: it orchestrates the
// extractor, the gallery, the matcher and the audit log behind the enroll,
// identify, remove and list operations.
package identify

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-gallery/internal/constants"
	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/facematch"
	"github.com/kozaktomas/face-gallery/internal/fingerprint"
	"github.com/kozaktomas/face-gallery/internal/ops"
)

// ImageStore keeps enrollment source images.
type ImageStore interface {
	Save(imageData []byte) (string, error)
	Open(ref string) ([]byte, string, error)
}

// Options wires a Service. Images and Ops are optional.
type Options struct {
	Extractor               fingerprint.Extractor
	Gallery                 database.GalleryWriter
	Audit                   database.AuditLog
	Matcher                 *facematch.Matcher
	Images                  ImageStore
	Ops                     *ops.Channel
	Dim                     int
	MaxDescriptorsPerPerson int
}

// Service implements the identification operations. It is safe for
// concurrent use.
type Service struct {
	extractor      fingerprint.Extractor
	gallery        database.GalleryWriter
	audit          database.AuditLog
	matcher        *facematch.Matcher
	images         ImageStore
	ops            *ops.Channel
	dim            int
	maxDescriptors int

	now          func() time.Time
	retryBackoff time.Duration
}

// New creates a Service.
func New(opts Options) *Service {
	m := opts.Matcher
	if m == nil {
		m = facematch.NewMatcher(facematch.DefaultThreshold)
	}
	return &Service{
		extractor:      opts.Extractor,
		gallery:        opts.Gallery,
		audit:          opts.Audit,
		matcher:        m,
		images:         opts.Images,
		ops:            opts.Ops,
		dim:            opts.Dim,
		maxDescriptors: opts.MaxDescriptorsPerPerson,
		now:            time.Now,
		retryBackoff:   constants.SnapshotRetryBackoffMs * time.Millisecond,
	}
}

// EnrollRequest enrolls one image. Without PersonID a new person is created;
// with PersonID the descriptor is appended to that person, who is created
// with DisplayName if absent.
type EnrollRequest struct {
	Image       []byte
	DisplayName string
	PersonID    string
	CallerID    string
}

// EnrollResult is the outcome of a successful enrollment.
type EnrollResult struct {
	PersonID     string
	DescriptorID string
	ImageRef     string
	Created      bool // The person did not exist before this enrollment
	// SimilarTo lists other people already within the match threshold of the
	// new descriptor, a hint of a possible duplicate enrollment.
	SimilarTo []database.NearestPerson
}

// Enroll extracts a descriptor and adds it to the gallery. Nothing is
// written when extraction fails.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	name := strings.TrimSpace(req.DisplayName)
	if len(req.Image) == 0 {
		return nil, invalidRequest("image is required")
	}
	if utf8.RuneCountInString(name) > constants.MaxDisplayNameLength {
		return nil, invalidRequest("display name exceeds %d characters", constants.MaxDisplayNameLength)
	}
	personID := req.PersonID
	if personID == "" {
		if name == "" {
			return nil, &Error{Kind: KindInput, Code: CodeDisplayNameRequired}
		}
		personID = uuid.NewString()
	} else if _, err := uuid.Parse(personID); err != nil {
		return nil, invalidRequest("person id %q is not a valid UUID", personID)
	}

	desc, err := s.extract(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	var imageRef string
	if s.images != nil {
		imageRef, err = s.images.Save(req.Image)
		if err != nil {
			s.ops.Report(ctx, ops.EventStorageFailure, err, "operation", "save_image")
			return nil, storageUnavailable(err)
		}
	}

	now := s.now().UTC()
	stored := database.StoredDescriptor{
		ID:        uuid.NewString(),
		Vector:    desc.Vector,
		ImageRef:  imageRef,
		CreatedAt: now,
	}
	person := database.Person{ID: personID, DisplayName: name, ImageRef: imageRef, CreatedAt: now}

	created, err := s.gallery.AddDescriptor(ctx, person, stored, s.maxDescriptors)
	if err != nil {
		svcErr := fromAddDescriptor(err)
		if svcErr.Kind == KindTransient {
			s.ops.Report(ctx, ops.EventStorageFailure, err, "operation", "add_descriptor", "person_id", personID)
		}
		return nil, svcErr
	}

	return &EnrollResult{
		PersonID:     personID,
		DescriptorID: stored.ID,
		ImageRef:     imageRef,
		Created:      created,
		SimilarTo:    s.similarPeople(ctx, personID, desc.Vector),
	}, nil
}

// similarPeople is advisory: failures are reported and yield no hints.
func (s *Service) similarPeople(ctx context.Context, personID string, vector []float32) []database.NearestPerson {
	near, err := s.gallery.NearestPeople(ctx, vector, database.DefaultSimilarPeople+1, s.matcher.Threshold())
	if err != nil {
		s.ops.Report(ctx, ops.EventStorageFailure, err, "operation", "nearest_people")
		return nil
	}
	out := make([]database.NearestPerson, 0, len(near))
	for _, n := range near {
		if n.PersonID != personID && len(out) < database.DefaultSimilarPeople {
			out = append(out, n)
		}
	}
	return out
}

// extract calls the extractor and enforces the configured dimensionality.
func (s *Service) extract(ctx context.Context, imageData []byte) (*fingerprint.Descriptor, error) {
	desc, err := s.extractor.Extract(ctx, imageData)
	if err == nil && (len(desc.Vector) != s.dim || !database.IsFinite(desc.Vector)) {
		err = &fingerprint.ExtractionError{
			Kind: fingerprint.KindExtractorUnavailable,
			Err:  errors.New("extractor returned a descriptor of the wrong shape"),
		}
	}
	if err != nil {
		svcErr := fromExtraction(err)
		if svcErr.Kind == KindTransient {
			s.ops.Report(ctx, ops.EventExtractorFailure, err)
		}
		return nil, svcErr
	}
	return desc, nil
}

// IdentifyRequest identifies the face in one image.
type IdentifyRequest struct {
	Image      []byte
	CallerID   string
	MaxResults int // number of ranked alternatives, 0 for the default
}

// Decision is the result of an identification that reached the matcher.
type Decision struct {
	RequestID        string
	QueryFingerprint string
	CallerID         string
	DecidedAt        time.Time
	Outcome          database.Outcome // matched or unmatched
	Matched          bool
	PersonID         string  // empty unless Matched
	DisplayName      string  // empty unless Matched
	Distance         float64 // best-candidate distance, +Inf on an empty gallery
	Threshold        float64
	Alternatives     []database.NearestPerson
	// Audited is false when the audit record could not be written. The
	// decision stands; the gap is reported to the operational channel.
	Audited bool
}

// Identify runs one identification attempt and audits it, whatever the
// outcome. It returns either a decision or an *Error carrying the request id
// of the audit record.
func (s *Service) Identify(ctx context.Context, req IdentifyRequest) (*Decision, error) {
	rec := database.AuditRecord{
		RequestID:        uuid.NewString(),
		CallerID:         req.CallerID,
		QueryFingerprint: fingerprint.QueryFingerprint(req.Image),
		Distance:         math.Inf(1),
	}

	desc, err := s.extract(ctx, req.Image)
	if err != nil {
		rec.Outcome = database.OutcomeExtractionFailed
		rec.Reason = extractionReason(err)
		s.appendAudit(ctx, rec)
		return nil, withRequestID(err, rec.RequestID)
	}

	entries, err := s.snapshot(ctx)
	if err != nil {
		s.ops.Report(ctx, ops.EventStorageFailure, err, "operation", "snapshot", "request_id", rec.RequestID)
		rec.Outcome = database.OutcomeError
		rec.Reason = CodeStorageUnavailable
		s.appendAudit(ctx, rec)
		return nil, withRequestID(storageUnavailable(err), rec.RequestID)
	}
	entries = s.excludeInvalid(ctx, entries)

	threshold := s.matcher.Threshold()
	cand := facematch.MatchAt(desc.Vector, entries, threshold)

	rec.Distance = cand.Distance
	if cand.Matched {
		rec.Outcome = database.OutcomeMatched
		rec.MatchedPersonID = cand.PersonID
	} else {
		rec.Outcome = database.OutcomeUnmatched
	}

	d := &Decision{
		RequestID:        rec.RequestID,
		QueryFingerprint: rec.QueryFingerprint,
		CallerID:         rec.CallerID,
		Outcome:          rec.Outcome,
		Matched:          cand.Matched,
		PersonID:         rec.MatchedPersonID,
		Distance:         cand.Distance,
		Threshold:        threshold,
		Alternatives:     facematch.TopK(desc.Vector, entries, resultLimit(req.MaxResults)),
	}
	if d.Matched {
		d.DisplayName = s.displayName(ctx, d.PersonID)
	}

	d.DecidedAt = s.appendAudit(ctx, rec)
	d.Audited = !d.DecidedAt.IsZero()
	if !d.Audited {
		d.DecidedAt = s.now().UTC()
	}
	return d, nil
}

// RejectIdentify audits an identification refused before extraction, such as
// a missing or oversized upload or an invalid option, and returns the input
// error carrying the request id of the audit record. Without an image the
// attempt is recorded as a malformed image.
func (s *Service) RejectIdentify(ctx context.Context, req IdentifyRequest, detail string) error {
	rec := database.AuditRecord{
		RequestID:        uuid.NewString(),
		CallerID:         req.CallerID,
		QueryFingerprint: fingerprint.QueryFingerprint(req.Image),
		Outcome:          database.OutcomeExtractionFailed,
		Reason:           ReasonInvalidRequest,
		Distance:         math.Inf(1),
	}
	if len(req.Image) == 0 {
		rec.Reason = string(fingerprint.KindMalformedImage)
	}
	s.appendAudit(ctx, rec)
	return withRequestID(invalidRequest("%s", detail), rec.RequestID)
}

func resultLimit(n int) int {
	if n <= 0 {
		return constants.DefaultMaxResults
	}
	return min(n, constants.MaxResultsLimit)
}

func withRequestID(err error, requestID string) error {
	if e, ok := AsError(err); ok {
		e.RequestID = requestID
		return e
	}
	return err
}

// snapshot reads the gallery, retrying once after a short pause.
func (s *Service) snapshot(ctx context.Context) ([]database.GalleryEntry, error) {
	entries, err := s.gallery.SnapshotEntries(ctx)
	if err == nil {
		return entries, nil
	}

	select {
	case <-ctx.Done():
		return nil, errors.Join(err, ctx.Err())
	case <-time.After(s.retryBackoff):
	}
	return s.gallery.SnapshotEntries(ctx)
}

// excludeInvalid drops every person owning an entry of the wrong
// dimensionality or with non-finite components.
func (s *Service) excludeInvalid(ctx context.Context, entries []database.GalleryEntry) []database.GalleryEntry {
	var bad map[string]bool
	for _, e := range entries {
		if len(e.Vector) == s.dim && database.IsFinite(e.Vector) {
			continue
		}
		if bad == nil {
			bad = make(map[string]bool)
		}
		if !bad[e.PersonID] {
			s.ops.Report(ctx, ops.EventIntegrityViolation, nil,
				"person_id", e.PersonID, "descriptor_id", e.DescriptorID, "dim", len(e.Vector))
		}
		bad[e.PersonID] = true
	}
	if bad == nil {
		return entries
	}

	valid := make([]database.GalleryEntry, 0, len(entries))
	for _, e := range entries {
		if !bad[e.PersonID] {
			valid = append(valid, e)
		}
	}
	return valid
}

func (s *Service) displayName(ctx context.Context, personID string) string {
	p, err := s.gallery.GetPerson(ctx, personID)
	if err != nil || p == nil {
		return ""
	}
	return p.DisplayName
}

// appendAudit writes rec, stamped now, even when ctx is already canceled.
// It returns the stamp, or the zero time when the write failed.
func (s *Service) appendAudit(ctx context.Context, rec database.AuditRecord) time.Time {
	rec.DecidedAt = s.now().UTC()
	if err := s.audit.Append(context.WithoutCancel(ctx), rec); err != nil {
		s.ops.Report(ctx, ops.EventAuditWriteFailed, err,
			"request_id", rec.RequestID, "caller_id", rec.CallerID, "outcome", string(rec.Outcome),
			"matched_person_id", rec.MatchedPersonID, "query_fingerprint", rec.QueryFingerprint)
		return time.Time{}
	}
	return rec.DecidedAt
}

// RemovePerson deletes a person and all descriptors. Unknown ids succeed.
func (s *Service) RemovePerson(ctx context.Context, personID string) error {
	if personID == "" {
		return invalidRequest("person id is required")
	}
	if err := s.gallery.RemovePerson(ctx, personID); err != nil {
		s.ops.Report(ctx, ops.EventStorageFailure, err, "operation", "remove_person", "person_id", personID)
		return storageUnavailable(err)
	}
	return nil
}

// GetPerson returns one person with descriptors.
func (s *Service) GetPerson(ctx context.Context, personID string) (*database.Person, error) {
	p, err := s.gallery.GetPerson(ctx, personID)
	if err != nil {
		return nil, storageUnavailable(err)
	}
	if p == nil {
		return nil, notFound(CodePersonNotFound)
	}
	return p, nil
}

// ListPeople returns enrolled people, optionally only those whose display
// name contains query, ignoring case and diacritics.
func (s *Service) ListPeople(ctx context.Context, query string) ([]database.Person, error) {
	people, err := s.gallery.ListPeople(ctx)
	if err != nil {
		return nil, storageUnavailable(err)
	}
	if strings.TrimSpace(query) == "" {
		return people, nil
	}

	filtered := make([]database.Person, 0, len(people))
	for _, p := range people {
		if facematch.NameContains(p.DisplayName, query) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// PersonImage returns the stored source image of a person.
func (s *Service) PersonImage(ctx context.Context, personID string) ([]byte, string, error) {
	p, err := s.GetPerson(ctx, personID)
	if err != nil {
		return nil, "", err
	}
	if s.images == nil || p.ImageRef == "" {
		return nil, "", notFound(CodeImageNotFound)
	}

	data, mime, err := s.images.Open(p.ImageRef)
	if errors.Is(err, fingerprint.ErrImageNotFound) {
		return nil, "", notFound(CodeImageNotFound)
	}
	if err != nil {
		return nil, "", storageUnavailable(err)
	}
	return data, mime, nil
}

// ListAudit returns audit records for the operator view, newest first.
func (s *Service) ListAudit(ctx context.Context, filter database.AuditFilter) ([]database.AuditRecord, error) {
	if filter.Outcome != "" && !filter.Outcome.Valid() {
		return nil, invalidRequest("unknown outcome %q", filter.Outcome)
	}
	if filter.Limit < 0 {
		return nil, invalidRequest("limit must not be negative")
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && !filter.Since.Before(filter.Until) {
		return nil, invalidRequest("since must be before until")
	}
	if filter.Limit == 0 {
		filter.Limit = constants.DefaultAuditLimit
	}
	filter.Limit = min(filter.Limit, constants.MaxAuditLimit)

	records, err := s.audit.List(ctx, filter)
	if err != nil {
		return nil, storageUnavailable(err)
	}
	return records, nil
}

// Stats describes the gallery and the active decision parameters.
type Stats struct {
	People      int
	Descriptors int
	Threshold   float64
	Dim         int
}

// Stats returns gallery size and matcher settings.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	gs, err := s.gallery.Stats(ctx)
	if err != nil {
		return nil, storageUnavailable(err)
	}
	return &Stats{People: gs.People, Descriptors: gs.Descriptors, Threshold: s.matcher.Threshold(), Dim: s.dim}, nil
}

// SetThreshold changes the decision threshold for subsequent identifications.
func (s *Service) SetThreshold(threshold float64) error {
	if err := s.matcher.SetThreshold(threshold); err != nil {
		return invalidRequest("%v", err)
	}
	return nil
}
