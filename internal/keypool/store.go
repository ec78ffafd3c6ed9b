package keypool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gptproxy/gptproxy/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store is the repository over persisted key records. It carries no business
// logic: transitions and selection policy live in the Manager, Selector, and
// Validator, which consume this interface so tests can substitute an
// in-memory database.
type Store interface {
	Create(ctx context.Context, key *models.Key) error
	GetByID(ctx context.Context, id string) (*models.Key, error)
	GetBySecret(ctx context.Context, secret string) (*models.Key, error)
	ListPaginated(ctx context.Context, status string, page, pageSize int) ([]models.Key, int64, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Key, error)
	UpdateStatus(ctx context.Context, id, status string) error
	CompareAndSwapStatus(ctx context.Context, id, from, to string) (bool, error)
	UpdateName(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, at time.Time) error
	ResetStatuses(ctx context.Context, from []string) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	SumTotalRequests(ctx context.Context) (int64, error)
	SetLastProbe(ctx context.Context, id string, probe models.ProbeResult) error
}

// GormStore implements Store on top of a GORM connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

// Create inserts a new key record. A secret that already exists yields
// ErrDuplicateKey.
func (s *GormStore) Create(ctx context.Context, key *models.Key) error {
	if key == nil {
		return errors.New("keypool: nil key")
	}
	var existing models.Key
	errFind := s.db.WithContext(ctx).Select("id").Where("secret = ?", key.Secret).Take(&existing).Error
	if errFind == nil {
		return ErrDuplicateKey
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("keypool: lookup secret: %w", errFind)
	}
	if errCreate := s.db.WithContext(ctx).Create(key).Error; errCreate != nil {
		return fmt.Errorf("keypool: create key: %w", errCreate)
	}
	return nil
}

// GetByID fetches one key record by id.
func (s *GormStore) GetByID(ctx context.Context, id string) (*models.Key, error) {
	var row models.Key
	if errFind := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("keypool: get key: %w", errFind)
	}
	return &row, nil
}

// GetBySecret fetches one key record by its secret value.
func (s *GormStore) GetBySecret(ctx context.Context, secret string) (*models.Key, error) {
	var row models.Key
	if errFind := s.db.WithContext(ctx).Where("secret = ?", secret).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("keypool: get key by secret: %w", errFind)
	}
	return &row, nil
}

// ListPaginated returns one page of key records plus the filtered total.
// Ordering is created_at then id so page N stays well-defined while new keys
// are inserted concurrently.
func (s *GormStore) ListPaginated(ctx context.Context, status string, page, pageSize int) ([]models.Key, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	q := s.db.WithContext(ctx).Model(&models.Key{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("keypool: count keys: %w", errCount)
	}

	var rows []models.Key
	if errFind := q.
		Order("created_at ASC, id ASC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("keypool: list keys: %w", errFind)
	}
	return rows, total, nil
}

// ListByStatus returns keys in a given status ordered by last_used_at so the
// least recently used come first. A non-positive limit means no limit.
func (s *GormStore) ListByStatus(ctx context.Context, status string, limit int) ([]models.Key, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("last_used_at ASC NULLS FIRST, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.Key
	if errFind := q.Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("keypool: list %s keys: %w", status, errFind)
	}
	return rows, nil
}

// UpdateStatus sets a key's status unconditionally.
func (s *GormStore) UpdateStatus(ctx context.Context, id, status string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Key{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("keypool: update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// CompareAndSwapStatus transitions a key from one status to another only if
// it is still in the expected status. It reports whether the swap happened;
// a missing id yields ErrKeyNotFound.
func (s *GormStore) CompareAndSwapStatus(ctx context.Context, id, from, to string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Key{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("keypool: swap status: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if errCount := s.db.WithContext(ctx).Model(&models.Key{}).Where("id = ?", id).Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("keypool: swap status recheck: %w", errCount)
	}
	if count == 0 {
		return false, ErrKeyNotFound
	}
	return false, nil
}

// UpdateName sets a key's display name.
func (s *GormStore) UpdateName(ctx context.Context, id, name string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Key{}).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("keypool: update name: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Delete removes a key record.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Key{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("keypool: delete key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Touch records a successful use: bumps total_requests atomically in SQL and
// advances last_used_at.
func (s *GormStore) Touch(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Key{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_requests": gorm.Expr("total_requests + ?", 1),
			"last_used_at":   at.UTC(),
			"updated_at":     at.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("keypool: touch key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// ResetStatuses moves every key currently in one of the given statuses to
// active in a single UPDATE, returning the number of rows affected.
func (s *GormStore) ResetStatuses(ctx context.Context, from []string) (int64, error) {
	if len(from) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Key{}).
		Where("status IN ?", from).
		Updates(map[string]any{"status": models.KeyStatusActive, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("keypool: reset statuses: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountByStatus returns key counts grouped by status.
func (s *GormStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	// statusCount holds one grouped count row.
	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	if errFind := s.db.WithContext(ctx).
		Model(&models.Key{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("keypool: count by status: %w", errFind)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// SumTotalRequests sums the persisted all-time request counters.
func (s *GormStore) SumTotalRequests(ctx context.Context) (int64, error) {
	var total int64
	if errSum := s.db.WithContext(ctx).
		Model(&models.Key{}).
		Select("COALESCE(SUM(total_requests), 0)").
		Scan(&total).Error; errSum != nil {
		return 0, fmt.Errorf("keypool: sum total requests: %w", errSum)
	}
	return total, nil
}

// SetLastProbe stores the latest validation outcome for a key.
func (s *GormStore) SetLastProbe(ctx context.Context, id string, probe models.ProbeResult) error {
	payload, errMarshal := json.Marshal(probe)
	if errMarshal != nil {
		return fmt.Errorf("keypool: marshal probe: %w", errMarshal)
	}
	res := s.db.WithContext(ctx).
		Model(&models.Key{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_probe": datatypes.JSON(payload), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("keypool: set last probe: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Ensure GormStore implements Store.
var _ Store = (*GormStore)(nil)
