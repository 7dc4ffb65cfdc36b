package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/medremind/apiserver/internal/services"
	"github.com/medremind/apiserver/internal/store"
	"github.com/medremind/apiserver/types"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type memCredentialStore struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{users: map[int]types.User{}}
}

func (m *memCredentialStore) GetByID(ctx context.Context, id int) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return types.User{}, store.ErrNotFound
}

func (m *memCredentialStore) GetByUsername(ctx context.Context, username string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memCredentialStore) ListByEmail(ctx context.Context, email string) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []types.User
	for _, user := range m.users {
		if user.Email != nil && *user.Email == email {
			matches = append(matches, user)
		}
	}
	return matches, nil
}

func (m *memCredentialStore) Create(ctx context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return types.User{}, store.ErrConflict
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return user, nil
}

type memMedicineStore struct {
	mu      sync.Mutex
	nextID  int
	records map[int]types.Medicine
}

func newMemMedicineStore() *memMedicineStore {
	return &memMedicineStore{records: map[int]types.Medicine{}}
}

func ownerMatches(recordOwner, caller *int) bool {
	if recordOwner == nil || caller == nil {
		return recordOwner == nil && caller == nil
	}
	return *recordOwner == *caller
}

func (s *memMedicineStore) List(ctx context.Context, owner *int) ([]types.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.Medicine{}
	for _, record := range s.records {
		if ownerMatches(record.UserID, owner) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *memMedicineStore) Get(ctx context.Context, owner *int, id int) (types.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || !ownerMatches(record.UserID, owner) {
		return types.Medicine{}, store.ErrNotFound
	}
	return record, nil
}

func (s *memMedicineStore) Create(ctx context.Context, medicine types.Medicine) (types.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	medicine.ID = s.nextID
	now := time.Now()
	medicine.CreatedAt = now
	medicine.UpdatedAt = now
	if medicine.TakenTimes == nil {
		medicine.TakenTimes = map[string]bool{}
	}
	if medicine.LastNotified == nil {
		medicine.LastNotified = map[string]time.Time{}
	}
	s.records[medicine.ID] = medicine
	return medicine, nil
}

func (s *memMedicineStore) Update(ctx context.Context, owner *int, medicine types.Medicine) (types.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[medicine.ID]
	if !ok || !ownerMatches(current.UserID, owner) {
		return types.Medicine{}, store.ErrNotFound
	}
	medicine.UserID = current.UserID
	medicine.StartDate = current.StartDate
	medicine.CreatedAt = current.CreatedAt
	medicine.UpdatedAt = time.Now()
	s.records[medicine.ID] = medicine
	return medicine, nil
}

func (s *memMedicineStore) Delete(ctx context.Context, owner *int, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || !ownerMatches(record.UserID, owner) {
		return store.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *memMedicineStore) MarkTaken(ctx context.Context, owner *int, id int, slot string) (types.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || !ownerMatches(record.UserID, owner) {
		return types.Medicine{}, store.ErrNotFound
	}
	taken := make(map[string]bool, len(record.TakenTimes)+1)
	for k, v := range record.TakenTimes {
		taken[k] = v
	}
	taken[slot] = true
	record.TakenTimes = taken
	record.UpdatedAt = time.Now()
	s.records[id] = record
	return record, nil
}

func (s *memMedicineStore) MarkCompleted(ctx context.Context, owner *int, id int) (types.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || !ownerMatches(record.UserID, owner) {
		return types.Medicine{}, store.ErrNotFound
	}
	record.Completed = true
	record.UpdatedAt = time.Now()
	s.records[id] = record
	return record, nil
}

func servicesDefaults() services.MedicineOptions {
	return services.MedicineOptions{}
}

type testEnv struct {
	router   *chi.Mux
	identity *services.IdentityService
}

func newTestEnv(t *testing.T, opts services.MedicineOptions) *testEnv {
	t.Helper()

	identity := services.NewIdentityService(newMemCredentialStore(), nil)
	medicines := services.NewMedicineService(newMemMedicineStore(), opts, nil)

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, identity, testSecret)
	})
	router.Route("/medicines", func(r chi.Router) {
		MedicineRouter(r, medicines, OptionalAuth(testSecret))
	})

	return &testEnv{router: router, identity: identity}
}

// signupToken registers a user directly through the service and returns a
// bearer token for it.
func (e *testEnv) signupToken(t *testing.T, username string) (types.User, string) {
	t.Helper()
	user, err := e.identity.Signup(context.Background(), username, "supersecret", "")
	require.NoError(t, err)
	token, err := issueToken(user.ID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return user, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &out))
	return out
}
