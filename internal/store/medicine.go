package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/medremind/apiserver/types"
)

const medicineColumns = `id, user_id, name, times, posology, duration, start_date, taken_times, last_notified, completed, created_at, updated_at`

// MedicineRepository handles persistence for medicines. Every query is
// scoped to the calling owner: a nil owner matches only ownerless records,
// so callers can never observe or mutate another user's medicines.
type MedicineRepository struct {
	db *sql.DB
}

func NewMedicineRepository(db *sql.DB) *MedicineRepository {
	return &MedicineRepository{db: db}
}

func (r *MedicineRepository) List(ctx context.Context, owner *int) ([]types.Medicine, error) {
	const query = `
		SELECT ` + medicineColumns + `
		FROM medicines
		WHERE user_id IS NOT DISTINCT FROM $1
		ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	medicines := make([]types.Medicine, 0)
	for rows.Next() {
		medicine, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, medicine)
	}
	return medicines, rows.Err()
}

func (r *MedicineRepository) Get(ctx context.Context, owner *int, id int) (types.Medicine, error) {
	const query = `
		SELECT ` + medicineColumns + `
		FROM medicines
		WHERE id = $1 AND user_id IS NOT DISTINCT FROM $2`
	return r.one(r.db.QueryRowContext(ctx, query, id, owner))
}

func (r *MedicineRepository) Create(ctx context.Context, medicine types.Medicine) (types.Medicine, error) {
	now := time.Now()
	medicine.CreatedAt = now
	medicine.UpdatedAt = now

	timesJSON, takenJSON, notifiedJSON, err := marshalJSONFields(medicine)
	if err != nil {
		return types.Medicine{}, err
	}

	const query = `
		INSERT INTO medicines (user_id, name, times, posology, duration, start_date, taken_times, last_notified, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		medicine.UserID,
		medicine.Name,
		timesJSON,
		medicine.Posology,
		medicine.Duration,
		medicine.StartDate,
		takenJSON,
		notifiedJSON,
		medicine.Completed,
		medicine.CreatedAt,
		medicine.UpdatedAt,
	).Scan(&medicine.ID); err != nil {
		return types.Medicine{}, err
	}
	return medicine, nil
}

// Update rewrites the mutable fields of a medicine. The owner, start date
// and creation timestamp are never touched.
func (r *MedicineRepository) Update(ctx context.Context, owner *int, medicine types.Medicine) (types.Medicine, error) {
	medicine.UpdatedAt = time.Now()

	timesJSON, takenJSON, notifiedJSON, err := marshalJSONFields(medicine)
	if err != nil {
		return types.Medicine{}, err
	}

	const query = `
		UPDATE medicines
		SET name = $1,
			times = $2,
			posology = $3,
			duration = $4,
			taken_times = $5,
			last_notified = $6,
			completed = $7,
			updated_at = $8
		WHERE id = $9 AND user_id IS NOT DISTINCT FROM $10
		RETURNING ` + medicineColumns
	return r.one(r.db.QueryRowContext(
		ctx,
		query,
		medicine.Name,
		timesJSON,
		medicine.Posology,
		medicine.Duration,
		takenJSON,
		notifiedJSON,
		medicine.Completed,
		medicine.UpdatedAt,
		medicine.ID,
		owner,
	))
}

func (r *MedicineRepository) Delete(ctx context.Context, owner *int, id int) error {
	const query = `DELETE FROM medicines WHERE id = $1 AND user_id IS NOT DISTINCT FROM $2`
	result, err := r.db.ExecContext(ctx, query, id, owner)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTaken flags one time slot as taken. The map merge happens inside a
// single UPDATE so concurrent calls for different slots cannot overwrite
// each other's writes.
func (r *MedicineRepository) MarkTaken(ctx context.Context, owner *int, id int, slot string) (types.Medicine, error) {
	const query = `
		UPDATE medicines
		SET taken_times = taken_times || jsonb_build_object($3::text, true),
			updated_at = $4
		WHERE id = $1 AND user_id IS NOT DISTINCT FROM $2
		RETURNING ` + medicineColumns
	return r.one(r.db.QueryRowContext(ctx, query, id, owner, slot, time.Now()))
}

// MarkCompleted flags the whole treatment as completed.
func (r *MedicineRepository) MarkCompleted(ctx context.Context, owner *int, id int) (types.Medicine, error) {
	const query = `
		UPDATE medicines
		SET completed = TRUE,
			updated_at = $3
		WHERE id = $1 AND user_id IS NOT DISTINCT FROM $2
		RETURNING ` + medicineColumns
	return r.one(r.db.QueryRowContext(ctx, query, id, owner, time.Now()))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *MedicineRepository) one(row *sql.Row) (types.Medicine, error) {
	medicine, err := scanMedicine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Medicine{}, ErrNotFound
		}
		return types.Medicine{}, err
	}
	return medicine, nil
}

func scanMedicine(row rowScanner) (types.Medicine, error) {
	var medicine types.Medicine
	var timesJSON, takenJSON, notifiedJSON []byte
	if err := row.Scan(
		&medicine.ID,
		&medicine.UserID,
		&medicine.Name,
		&timesJSON,
		&medicine.Posology,
		&medicine.Duration,
		&medicine.StartDate,
		&takenJSON,
		&notifiedJSON,
		&medicine.Completed,
		&medicine.CreatedAt,
		&medicine.UpdatedAt,
	); err != nil {
		return types.Medicine{}, err
	}

	_ = json.Unmarshal(timesJSON, &medicine.Times)
	_ = json.Unmarshal(takenJSON, &medicine.TakenTimes)
	_ = json.Unmarshal(notifiedJSON, &medicine.LastNotified)
	if medicine.Times == nil {
		medicine.Times = []string{}
	}
	if medicine.TakenTimes == nil {
		medicine.TakenTimes = map[string]bool{}
	}
	if medicine.LastNotified == nil {
		medicine.LastNotified = map[string]time.Time{}
	}
	return medicine, nil
}

func marshalJSONFields(medicine types.Medicine) (timesJSON, takenJSON, notifiedJSON []byte, err error) {
	if medicine.Times == nil {
		medicine.Times = []string{}
	}
	if medicine.TakenTimes == nil {
		medicine.TakenTimes = map[string]bool{}
	}
	if medicine.LastNotified == nil {
		medicine.LastNotified = map[string]time.Time{}
	}
	if timesJSON, err = json.Marshal(medicine.Times); err != nil {
		return nil, nil, nil, err
	}
	if takenJSON, err = json.Marshal(medicine.TakenTimes); err != nil {
		return nil, nil, nil, err
	}
	if notifiedJSON, err = json.Marshal(medicine.LastNotified); err != nil {
		return nil, nil, nil, err
	}
	return timesJSON, takenJSON, notifiedJSON, nil
}
