package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medremind/apiserver/internal/observability/metrics"
	"github.com/medremind/apiserver/types"
)

const timeSlotLayout = "15:04"

// MedicineStore defines persistence operations for medicines. Every lookup
// and mutation is scoped to the calling owner. MarkTaken and MarkCompleted
// must apply their change atomically at the store so concurrent dose
// updates cannot lose writes.
type MedicineStore interface {
	List(ctx context.Context, owner *int) ([]types.Medicine, error)
	Get(ctx context.Context, owner *int, id int) (types.Medicine, error)
	Create(ctx context.Context, medicine types.Medicine) (types.Medicine, error)
	Update(ctx context.Context, owner *int, medicine types.Medicine) (types.Medicine, error)
	Delete(ctx context.Context, owner *int, id int) error
	MarkTaken(ctx context.Context, owner *int, id int, slot string) (types.Medicine, error)
	MarkCompleted(ctx context.Context, owner *int, id int) (types.Medicine, error)
}

// MedicineOptions toggles the stricter dose-tracking policies. Both default
// to off, matching the permissive behavior the API has always had.
type MedicineOptions struct {
	// StrictSlots rejects mark-taken calls for time slots that are not
	// part of the medicine's schedule.
	StrictSlots bool

	// AutoComplete marks the treatment completed once every scheduled
	// slot has been taken.
	AutoComplete bool
}

// MedicineUpdate carries the writable medicine fields of a PUT/PATCH
// request. Nil fields are left unchanged.
type MedicineUpdate struct {
	Name         *string
	Times        *[]string
	Posology     *string
	Duration     *int
	TakenTimes   *map[string]bool
	LastNotified *map[string]time.Time
	Completed    *bool
}

// MedicineService holds the dose-tracking business logic over medicine
// records.
type MedicineService struct {
	repo   MedicineStore
	opts   MedicineOptions
	logger *slog.Logger
}

func NewMedicineService(repo MedicineStore, opts MedicineOptions, logger *slog.Logger) *MedicineService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MedicineService{repo: repo, opts: opts, logger: logger}
}

func (s *MedicineService) List(ctx context.Context, owner *int) ([]types.Medicine, error) {
	return s.repo.List(ctx, owner)
}

func (s *MedicineService) Get(ctx context.Context, owner *int, id int) (types.Medicine, error) {
	return s.repo.Get(ctx, owner, id)
}

// Create stores a new medicine. The owner comes from the resolved caller
// and is assigned exactly once; the start date is always today.
func (s *MedicineService) Create(ctx context.Context, owner *int, draft types.Medicine) (types.Medicine, error) {
	if err := validateMedicine(draft); err != nil {
		return types.Medicine{}, err
	}

	draft.ID = 0
	draft.UserID = owner
	draft.StartDate = types.Today()
	if draft.TakenTimes == nil {
		draft.TakenTimes = map[string]bool{}
	}
	if draft.LastNotified == nil {
		draft.LastNotified = map[string]time.Time{}
	}

	created, err := s.repo.Create(ctx, draft)
	if err != nil {
		return types.Medicine{}, err
	}

	metrics.ObserveMedicineCreated(owner != nil)
	s.logger.Info("medicine created", "medicine_id", created.ID, "name", created.Name, "owned", owner != nil)
	return created, nil
}

// Update applies the given partial update. The owner, start date and
// creation timestamp are immutable, and a completed treatment is never
// reset back to in-progress.
func (s *MedicineService) Update(ctx context.Context, owner *int, id int, patch MedicineUpdate) (types.Medicine, error) {
	medicine, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return types.Medicine{}, err
	}

	if patch.Name != nil {
		medicine.Name = *patch.Name
	}
	if patch.Times != nil {
		medicine.Times = *patch.Times
	}
	if patch.Posology != nil {
		medicine.Posology = *patch.Posology
	}
	if patch.Duration != nil {
		medicine.Duration = *patch.Duration
	}
	if patch.TakenTimes != nil {
		medicine.TakenTimes = *patch.TakenTimes
	}
	if patch.LastNotified != nil {
		medicine.LastNotified = *patch.LastNotified
	}
	if patch.Completed != nil && *patch.Completed {
		medicine.Completed = true
	}

	if err := validateMedicine(medicine); err != nil {
		return types.Medicine{}, err
	}

	return s.repo.Update(ctx, owner, medicine)
}

func (s *MedicineService) Delete(ctx context.Context, owner *int, id int) error {
	return s.repo.Delete(ctx, owner, id)
}

// MarkTaken flags one time slot of the medicine as taken. Re-marking an
// already taken slot is a no-op in effect. Completion is never derived here
// unless the AutoComplete option is on.
func (s *MedicineService) MarkTaken(ctx context.Context, owner *int, id int, slot string) (types.Medicine, error) {
	if strings.TrimSpace(slot) == "" {
		return types.Medicine{}, &ValidationError{Detail: "Missing 'time'."}
	}

	if s.opts.StrictSlots {
		medicine, err := s.repo.Get(ctx, owner, id)
		if err != nil {
			return types.Medicine{}, err
		}
		if !containsSlot(medicine.Times, slot) {
			return types.Medicine{}, &ValidationError{
				Detail: fmt.Sprintf("Time %q is not part of this medicine's schedule.", slot),
			}
		}
	}

	medicine, err := s.repo.MarkTaken(ctx, owner, id, slot)
	if err != nil {
		return types.Medicine{}, err
	}
	metrics.ObserveDoseMarked()

	if s.opts.AutoComplete && !medicine.Completed && allSlotsTaken(medicine) {
		return s.MarkCompleted(ctx, owner, id)
	}
	return medicine, nil
}

// MarkCompleted unconditionally completes the treatment. Idempotent, with
// no precondition on the taken state.
func (s *MedicineService) MarkCompleted(ctx context.Context, owner *int, id int) (types.Medicine, error) {
	medicine, err := s.repo.MarkCompleted(ctx, owner, id)
	if err != nil {
		return types.Medicine{}, err
	}
	metrics.ObserveTreatmentCompleted()
	s.logger.Info("treatment completed", "medicine_id", medicine.ID, "name", medicine.Name)
	return medicine, nil
}

func validateMedicine(medicine types.Medicine) error {
	fieldErrs := FieldErrors{}
	if strings.TrimSpace(medicine.Name) == "" {
		fieldErrs["name"] = "This field is required."
	}
	if medicine.Duration < 1 {
		fieldErrs["duration"] = "Ensure this value is greater than or equal to 1."
	}
	for _, slot := range medicine.Times {
		if _, err := time.Parse(timeSlotLayout, slot); err != nil {
			fieldErrs["times"] = fmt.Sprintf("%q is not a valid HH:MM time.", slot)
			break
		}
	}
	if len(fieldErrs) > 0 {
		return fieldErrs
	}
	return nil
}

func containsSlot(times []string, slot string) bool {
	for _, t := range times {
		if t == slot {
			return true
		}
	}
	return false
}

func allSlotsTaken(medicine types.Medicine) bool {
	if len(medicine.Times) == 0 {
		return false
	}
	for _, slot := range medicine.Times {
		if !medicine.TakenTimes[slot] {
			return false
		}
	}
	return true
}
