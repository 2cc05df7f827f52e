package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"smregister/internal/status/machine"
	"smregister/internal/status/models"
	"smregister/pkg/platform/sentinel"
)

type questionKey struct {
	shortName models.ShortName
	text      string
}

type storedAnswer struct {
	questionID int64
	answer     models.Answer
}

// InMemoryStore is a map-backed Store with the same ordering and idempotency rules as
// PostgresStore. Use NewInMemoryTx to get transactional applies on top of it.
type InMemoryStore struct {
	mu sync.RWMutex

	seq          int64
	certificates map[string]models.Certificate
	statuses     map[string][]models.StatusRecord
	attributions map[string][]models.EmployerAttribution
	questions    map[int64]questionKey
	questionIDs  map[questionKey]int64
	answers      map[string][]storedAnswer
}

// NewInMemory creates an empty in-memory status store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		certificates: make(map[string]models.Certificate),
		statuses:     make(map[string][]models.StatusRecord),
		attributions: make(map[string][]models.EmployerAttribution),
		questions:    make(map[int64]questionKey),
		questionIDs:  make(map[questionKey]int64),
		answers:      make(map[string][]storedAnswer),
	}
}

// LockCertificate is a no-op outside a unit of work; InMemoryTx provides the locking.
func (s *InMemoryStore) LockCertificate(_ context.Context, _ string) error {
	return nil
}

func (s *InMemoryStore) LatestStatus(_ context.Context, certificateID string) (*models.StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest, ok := s.latestLocked(certificateID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &latest, nil
}

func (s *InMemoryStore) latestLocked(certificateID string) (models.StatusRecord, bool) {
	rows := s.statuses[certificateID]
	if len(rows) == 0 {
		return models.StatusRecord{}, false
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if r.Supersedes(latest) {
			latest = r
		}
	}
	return latest, true
}

func (s *InMemoryStore) HasStatus(_ context.Context, ev models.StatusEvent) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasStatusLocked(ev), nil
}

func (s *InMemoryStore) hasStatusLocked(ev models.StatusEvent) bool {
	for _, r := range s.statuses[ev.CertificateID] {
		if r.Kind == ev.Kind && r.Timestamp.Equal(ev.Timestamp) {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) InsertStatus(_ context.Context, ev models.StatusEvent) error {
	s.insertStatus(ev)
	return nil
}

func (s *InMemoryStore) insertStatus(ev models.StatusEvent) (undo func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasStatusLocked(ev) {
		return func() {}
	}
	s.seq++
	seq := s.seq
	s.statuses[ev.CertificateID] = append(s.statuses[ev.CertificateID], models.StatusRecord{
		CertificateID: ev.CertificateID,
		Timestamp:     ev.Timestamp,
		Kind:          ev.Kind,
		Seq:           seq,
	})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.statuses[ev.CertificateID] = slices.DeleteFunc(s.statuses[ev.CertificateID], func(r models.StatusRecord) bool {
			return r.Seq == seq
		})
	}
}

func (s *InMemoryStore) ListStatuses(_ context.Context, certificateID string) ([]models.StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.statuses[certificateID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[j].Supersedes(out[i])
	})
	return out, nil
}

func (s *InMemoryStore) InsertAttribution(_ context.Context, a models.EmployerAttribution) error {
	s.insertAttribution(a)
	return nil
}

func (s *InMemoryStore) insertAttribution(a models.EmployerAttribution) (undo func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributions[a.CertificateID] = append(s.attributions[a.CertificateID], a)
	n := len(s.attributions[a.CertificateID])
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		rows := s.attributions[a.CertificateID]
		if len(rows) >= n {
			s.attributions[a.CertificateID] = slices.Delete(rows, n-1, n)
		}
	}
}

func (s *InMemoryStore) LatestAttribution(_ context.Context, certificateID string) (*models.EmployerAttribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.attributions[certificateID]
	if len(rows) == 0 {
		return nil, sentinel.ErrNotFound
	}
	a := rows[len(rows)-1]
	return &a, nil
}

func (s *InMemoryStore) SaveQuestionAnswer(_ context.Context, certificateID string, q models.Question) error {
	s.saveQuestionAnswer(certificateID, q)
	return nil
}

func (s *InMemoryStore) saveQuestionAnswer(certificateID string, q models.Question) (undo func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := questionKey{shortName: q.ShortName, text: q.Text}
	id, ok := s.questionIDs[key]
	if !ok {
		s.seq++
		id = s.seq
		s.questionIDs[key] = id
		s.questions[id] = key
	}
	s.answers[certificateID] = append(s.answers[certificateID], storedAnswer{questionID: id, answer: q.Answer})
	n := len(s.answers[certificateID])
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		rows := s.answers[certificateID]
		if len(rows) >= n {
			s.answers[certificateID] = slices.Delete(rows, n-1, n)
		}
	}
}

func (s *InMemoryStore) DeleteAnswers(_ context.Context, certificateID string) error {
	s.deleteAnswers(certificateID)
	return nil
}

func (s *InMemoryStore) deleteAnswers(certificateID string) (undo func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.answers[certificateID]
	delete(s.answers, certificateID)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.answers[certificateID] = append(previous, s.answers[certificateID]...)
	}
}

func (s *InMemoryStore) ListAnswers(_ context.Context, certificateID string) ([]models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answersLocked(certificateID), nil
}

func (s *InMemoryStore) answersLocked(certificateID string) []models.Question {
	var out []models.Question
	for _, a := range s.answers[certificateID] {
		key := s.questions[a.questionID]
		out = append(out, models.Question{Text: key.text, ShortName: key.shortName, Answer: a.answer})
	}
	return out
}

// QuestionCount returns the number of distinct questions stored.
func (s *InMemoryStore) QuestionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.questions)
}

func (s *InMemoryStore) RegisterCertificate(_ context.Context, c models.Certificate) error {
	s.registerCertificate(c)
	return nil
}

func (s *InMemoryStore) registerCertificate(c models.Certificate) (undo func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.certificates[c.ID]; exists {
		return func() {}
	}
	s.certificates[c.ID] = c
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.certificates, c.ID)
	}
}

func (s *InMemoryStore) ListVisibleForPerson(_ context.Context, personID string) ([]models.CertificateView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CertificateView
	for _, c := range s.certificates {
		if c.PersonID != personID {
			continue
		}
		latest, ok := s.latestLocked(c.ID)
		if !ok || !machine.Visible(latest) {
			continue
		}
		out = append(out, models.CertificateView{Certificate: c, Status: latest})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) DeletePerson(_ context.Context, personID string) (int, error) {
	n, _ := s.deletePerson(personID)
	return n, nil
}

func (s *InMemoryStore) deletePerson(personID string) (int, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type removed struct {
		cert         models.Certificate
		statuses     []models.StatusRecord
		attributions []models.EmployerAttribution
		answers      []storedAnswer
	}
	var gone []removed
	for id, c := range s.certificates {
		if c.PersonID != personID {
			continue
		}
		gone = append(gone, removed{
			cert:         c,
			statuses:     s.statuses[id],
			attributions: s.attributions[id],
			answers:      s.answers[id],
		})
		delete(s.certificates, id)
		delete(s.statuses, id)
		delete(s.attributions, id)
		delete(s.answers, id)
	}
	return len(gone), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, r := range gone {
			id := r.cert.ID
			s.certificates[id] = r.cert
			s.statuses[id] = r.statuses
			s.attributions[id] = r.attributions
			s.answers[id] = r.answers
		}
	}
}
