package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/medremind/apiserver/internal/store"
	"github.com/medremind/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memMedicineStore mimics the Postgres repository: owner-scoped queries and
// atomic map merges for MarkTaken, so it is safe under the concurrency test.
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

func cloneMedicine(m types.Medicine) types.Medicine {
	out := m
	out.Times = append([]string(nil), m.Times...)
	out.TakenTimes = make(map[string]bool, len(m.TakenTimes))
	for k, v := range m.TakenTimes {
		out.TakenTimes[k] = v
	}
	out.LastNotified = make(map[string]time.Time, len(m.LastNotified))
	for k, v := range m.LastNotified {
		out.LastNotified[k] = v
	}
	return out
}

func (s *memMedicineStore) List(ctx context.Context, owner *int) ([]types.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.Medicine{}
	for _, record := range s.records {
		if ownerMatches(record.UserID, owner) {
			out = append(out, cloneMedicine(record))
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
	return cloneMedicine(record), nil
}

func (s *memMedicineStore) Create(ctx context.Context, medicine types.Medicine) (types.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	medicine.ID = s.nextID
	now := time.Now()
	medicine.CreatedAt = now
	medicine.UpdatedAt = now
	s.records[medicine.ID] = cloneMedicine(medicine)
	return cloneMedicine(medicine), nil
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
	s.records[medicine.ID] = cloneMedicine(medicine)
	return cloneMedicine(medicine), nil
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
	record = cloneMedicine(record)
	record.TakenTimes[slot] = true
	record.UpdatedAt = time.Now()
	s.records[id] = record
	return cloneMedicine(record), nil
}

func (s *memMedicineStore) MarkCompleted(ctx context.Context, owner *int, id int) (types.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || !ownerMatches(record.UserID, owner) {
		return types.Medicine{}, store.ErrNotFound
	}
	record = cloneMedicine(record)
	record.Completed = true
	record.UpdatedAt = time.Now()
	s.records[id] = record
	return cloneMedicine(record), nil
}

func newMedicineService(opts MedicineOptions) (*MedicineService, *memMedicineStore) {
	repo := newMemMedicineStore()
	return NewMedicineService(repo, opts, nil), repo
}

func aspirinDraft() types.Medicine {
	return types.Medicine{
		Name:     "Aspirin",
		Times:    []string{"08:00", "20:00"},
		Posology: "1 tablet",
		Duration: 5,
	}
}

func TestCreate_Defaults(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})

	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Nil(t, created.UserID)
	assert.Equal(t, types.Today().String(), created.StartDate.String())
	assert.Empty(t, created.TakenTimes)
	assert.False(t, created.Completed)
}

func TestCreate_OwnerAssignment(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})
	owner := 42

	created, err := service.Create(context.Background(), &owner, aspirinDraft())
	require.NoError(t, err)
	require.NotNil(t, created.UserID)
	assert.Equal(t, 42, *created.UserID)
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})

	tests := []struct {
		name  string
		draft types.Medicine
		field string
	}{
		{"missing name", types.Medicine{Duration: 5}, "name"},
		{"zero duration", types.Medicine{Name: "Aspirin"}, "duration"},
		{"negative duration", types.Medicine{Name: "Aspirin", Duration: -1}, "duration"},
		{"bad time format", types.Medicine{Name: "Aspirin", Duration: 5, Times: []string{"25:99"}}, "times"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(context.Background(), nil, tt.draft)
			var fieldErrs FieldErrors
			require.ErrorAs(t, err, &fieldErrs)
			assert.Contains(t, fieldErrs, tt.field)
		})
	}
}

func TestMarkTaken_Idempotent(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})
	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)

	first, err := service.MarkTaken(context.Background(), nil, created.ID, "07:00")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"07:00": true}, first.TakenTimes)

	second, err := service.MarkTaken(context.Background(), nil, created.ID, "07:00")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"07:00": true}, second.TakenTimes)
}

func TestMarkTaken_MissingTime(t *testing.T) {
	t.Parallel()
	service, repo := newMedicineService(MedicineOptions{})
	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)

	_, err = service.MarkTaken(context.Background(), nil, created.ID, "")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Missing 'time'.", validationErr.Detail)

	// The record must not have been touched.
	stored, err := repo.Get(context.Background(), nil, created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.TakenTimes)
	assert.Equal(t, created.UpdatedAt, stored.UpdatedAt)
}

func TestMarkTaken_UnscheduledSlotPermitted(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})
	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)

	updated, err := service.MarkTaken(context.Background(), nil, created.ID, "03:00")
	require.NoError(t, err)
	assert.True(t, updated.TakenTimes["03:00"])
}

func TestMarkTaken_StrictSlots(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{StrictSlots: true})
	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)

	_, err = service.MarkTaken(context.Background(), nil, created.ID, "03:00")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	updated, err := service.MarkTaken(context.Background(), nil, created.ID, "08:00")
	require.NoError(t, err)
	assert.True(t, updated.TakenTimes["08:00"])
}

func TestMarkTaken_AutoComplete(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{AutoComplete: true})
	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)

	partial, err := service.MarkTaken(context.Background(), nil, created.ID, "08:00")
	require.NoError(t, err)
	assert.False(t, partial.Completed)

	full, err := service.MarkTaken(context.Background(), nil, created.ID, "20:00")
	require.NoError(t, err)
	assert.True(t, full.Completed)
}

func TestMarkCompleted_Idempotent(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})
	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)

	first, err := service.MarkCompleted(context.Background(), nil, created.ID)
	require.NoError(t, err)
	assert.True(t, first.Completed)

	second, err := service.MarkCompleted(context.Background(), nil, created.ID)
	require.NoError(t, err)
	assert.True(t, second.Completed)
}

// The full flow from the treatment lifecycle: create, take a dose, complete,
// then keep tracking doses after completion.
func TestTreatmentLifecycle(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})

	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)
	assert.Empty(t, created.TakenTimes)
	assert.False(t, created.Completed)
	assert.Equal(t, types.Today().String(), created.StartDate.String())

	morning, err := service.MarkTaken(context.Background(), nil, created.ID, "08:00")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"08:00": true}, morning.TakenTimes)

	completed, err := service.MarkCompleted(context.Background(), nil, created.ID)
	require.NoError(t, err)
	assert.True(t, completed.Completed)

	evening, err := service.MarkTaken(context.Background(), nil, created.ID, "20:00")
	require.NoError(t, err)
	assert.True(t, evening.Completed)
	assert.Equal(t, map[string]bool{"08:00": true, "20:00": true}, evening.TakenTimes)
}

func TestMarkTaken_ConcurrentSlots(t *testing.T) {
	t.Parallel()
	service, repo := newMedicineService(MedicineOptions{})
	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)

	slots := []string{"06:00", "08:00", "12:00", "16:00", "20:00", "23:00"}
	var wg sync.WaitGroup
	for _, slot := range slots {
		wg.Add(1)
		go func(slot string) {
			defer wg.Done()
			_, err := service.MarkTaken(context.Background(), nil, created.ID, slot)
			assert.NoError(t, err)
		}(slot)
	}
	wg.Wait()

	stored, err := repo.Get(context.Background(), nil, created.ID)
	require.NoError(t, err)
	for _, slot := range slots {
		assert.True(t, stored.TakenTimes[slot], "slot %s lost", slot)
	}
}

func TestUpdate_PartialAndImmutableFields(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})
	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)

	name := "Ibuprofen"
	updated, err := service.Update(context.Background(), nil, created.ID, MedicineUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ibuprofen", updated.Name)
	assert.Equal(t, created.Times, updated.Times)
	assert.Equal(t, created.Duration, updated.Duration)
	assert.Equal(t, created.StartDate.String(), updated.StartDate.String())
}

func TestUpdate_CompletedNeverReset(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})
	created, err := service.Create(context.Background(), nil, aspirinDraft())
	require.NoError(t, err)

	_, err = service.MarkCompleted(context.Background(), nil, created.ID)
	require.NoError(t, err)

	reset := false
	updated, err := service.Update(context.Background(), nil, created.ID, MedicineUpdate{Completed: &reset})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
}

func TestOwnership_Isolation(t *testing.T) {
	t.Parallel()
	service, _ := newMedicineService(MedicineOptions{})
	alice, bob := 1, 2

	created, err := service.Create(context.Background(), &alice, aspirinDraft())
	require.NoError(t, err)

	_, err = service.Get(context.Background(), &bob, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = service.Get(context.Background(), nil, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = service.MarkTaken(context.Background(), &bob, created.ID, "08:00")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := service.List(context.Background(), &bob)
	require.NoError(t, err)
	assert.Empty(t, list)
}
