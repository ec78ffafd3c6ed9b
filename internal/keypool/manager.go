package keypool

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gptproxy/gptproxy/internal/models"
	"github.com/gptproxy/gptproxy/internal/util"
	log "github.com/sirupsen/logrus"
)

// Manager is the single entry point for everything the relay and the admin
// API do to the key pool. It owns the consistency rules between the database,
// the in-memory usage counters, and the cached rotation snapshot: every
// mutation that can change the active set invalidates the snapshot before
// returning.
type Manager struct {
	store      Store
	accountant *Accountant
	selector   *Selector
	validator  *Validator

	secretPrefix        string
	resetIncludeRevoked bool
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// SecretPrefix is required on every submitted secret; lines without it
	// are rejected as malformed.
	SecretPrefix string
	// ResetIncludeRevoked makes ResetAll also resurrect revoked keys.
	ResetIncludeRevoked bool
}

// NewManager constructs a Manager.
func NewManager(store Store, accountant *Accountant, selector *Selector, validator *Validator, opts ManagerOptions) *Manager {
	return &Manager{
		store:               store,
		accountant:          accountant,
		selector:            selector,
		validator:           validator,
		secretPrefix:        opts.SecretPrefix,
		resetIncludeRevoked: opts.ResetIncludeRevoked,
	}
}

// SelectKey picks the next active key for an upstream call.
func (m *Manager) SelectKey(ctx context.Context) (SelectedKey, error) {
	return m.selector.Pick(ctx)
}

// RecordUsage counts one successful request against keyID. The in-memory
// counters are updated synchronously; the persisted counter and
// last_used_at are written in the background so the relay response is not
// held up by a database write.
func (m *Manager) RecordUsage(ctx context.Context, keyID string) {
	now := time.Now().UTC()
	m.accountant.Record(keyID)
	go func(ctx context.Context) {
		if errTouch := m.store.Touch(ctx, keyID, now); errTouch != nil && errTouch != ErrKeyNotFound {
			log.WithError(errTouch).WithField("key_id", keyID).Warn("failed to persist key usage")
		}
	}(context.WithoutCancel(ctx))
}

// ReportFailure handles an upstream rejection of keyID. Auth and quota
// rejections (401, 403, 429) deactivate the key and pull it out of rotation
// immediately; other statuses are the request's problem, not the key's.
func (m *Manager) ReportFailure(ctx context.Context, keyID string, statusCode int) {
	switch statusCode {
	case 401, 403, 429:
	default:
		return
	}
	swapped, errSwap := m.store.CompareAndSwapStatus(ctx, keyID, models.KeyStatusActive, models.KeyStatusInactive)
	if errSwap != nil && errSwap != ErrKeyNotFound {
		log.WithError(errSwap).WithField("key_id", keyID).Warn("failed to deactivate rejected key")
		return
	}
	m.selector.MarkDisabled(keyID)
	if swapped {
		log.WithFields(log.Fields{"key_id": keyID, "status_code": statusCode}).Warn("upstream rejected key, deactivated")
		m.selector.Invalidate()
	}
}

// AddKey stores one new key as active.
func (m *Manager) AddKey(ctx context.Context, secret, name string) (*KeyView, error) {
	secret = strings.TrimSpace(secret)
	if !m.validSecret(secret) {
		return nil, ErrMalformedKey
	}
	key := &models.Key{
		ID:     uuid.NewString(),
		Secret: secret,
		Name:   strings.TrimSpace(name),
		Status: models.KeyStatusActive,
	}
	if errCreate := m.store.Create(ctx, key); errCreate != nil {
		return nil, errCreate
	}
	m.selector.Invalidate()
	view := m.view(key)
	return &view, nil
}

// BulkAddResult is the outcome of one submitted line. KeySuffix carries the
// masked form of the secret so failures can be matched to input lines without
// echoing credentials.
type BulkAddResult struct {
	Success      bool   `json:"success"`
	KeySuffix    string `json:"key_suffix"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// BulkAddReport summarizes one bulk submission.
type BulkAddReport struct {
	SuccessCount int             `json:"success_count"`
	ErrorCount   int             `json:"error_count"`
	Results      []BulkAddResult `json:"results"`
}

// BulkAdd ingests newline-separated "secret" or "secret,name" lines. Each
// line succeeds or fails on its own; one malformed or duplicate line never
// blocks the rest of the batch.
func (m *Manager) BulkAdd(ctx context.Context, text string) (BulkAddReport, error) {
	report := BulkAddReport{Results: []BulkAddResult{}}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		secret, name := splitKeyLine(line)
		result := BulkAddResult{KeySuffix: util.MaskSecret(secret)}
		_, errAdd := m.AddKey(ctx, secret, name)
		switch {
		case errAdd == nil:
			result.Success = true
			report.SuccessCount++
		case errors.Is(errAdd, ErrDuplicateKey):
			result.ErrorMessage = "key already exists"
			report.ErrorCount++
		case errors.Is(errAdd, ErrMalformedKey):
			result.ErrorMessage = "malformed key"
			report.ErrorCount++
		default:
			return report, errAdd
		}
		report.Results = append(report.Results, result)
	}
	if report.SuccessCount > 0 {
		m.selector.Invalidate()
	}
	return report, nil
}

// SetStatus moves a key to an explicit status and returns the updated view.
// This is the only path that can bring a revoked key back; the validator and
// ResetAll leave revoked keys alone.
func (m *Manager) SetStatus(ctx context.Context, keyID, status string) (*KeyView, error) {
	parsed, errParse := ParseStatus(status)
	if errParse != nil {
		return nil, errParse
	}
	if errUpdate := m.store.UpdateStatus(ctx, keyID, parsed); errUpdate != nil {
		return nil, errUpdate
	}
	if parsed != models.KeyStatusActive {
		m.selector.MarkDisabled(keyID)
	}
	m.selector.Invalidate()
	return m.GetKey(ctx, keyID)
}

// Rename changes a key's display name and returns the updated view.
func (m *Manager) Rename(ctx context.Context, keyID, name string) (*KeyView, error) {
	if errUpdate := m.store.UpdateName(ctx, keyID, strings.TrimSpace(name)); errUpdate != nil {
		return nil, errUpdate
	}
	return m.GetKey(ctx, keyID)
}

// Delete removes a key and its in-memory usage counters.
func (m *Manager) Delete(ctx context.Context, keyID string) error {
	if errDelete := m.store.Delete(ctx, keyID); errDelete != nil {
		return errDelete
	}
	m.accountant.Remove(keyID)
	m.selector.MarkDisabled(keyID)
	m.selector.Invalidate()
	return nil
}

// ResetAll returns every inactive key to active and reports how many keys
// changed. Revoked keys are included only when the manager was configured
// for it.
func (m *Manager) ResetAll(ctx context.Context) (int64, error) {
	from := []string{models.KeyStatusInactive}
	if m.resetIncludeRevoked {
		from = append(from, models.KeyStatusRevoked)
	}
	count, errReset := m.store.ResetStatuses(ctx, from)
	if errReset != nil {
		return 0, errReset
	}
	if count > 0 {
		m.selector.Invalidate()
	}
	return count, nil
}

// ValidateNow kicks off a validation cycle in the background. It reports
// ErrCycleRunning when a cycle is already in flight.
func (m *Manager) ValidateNow(ctx context.Context) error {
	if m.validator.Running() {
		return ErrCycleRunning
	}
	go func(ctx context.Context) {
		if _, errCycle := m.validator.RunCycle(ctx); errCycle != nil && !errors.Is(errCycle, ErrCycleRunning) {
			log.WithError(errCycle).Error("on-demand key validation failed")
		}
	}(context.WithoutCancel(ctx))
	return nil
}

// KeyView is the admin-facing shape of a key: the secret is masked, the
// all-time counter sits at the top level, and the live usage windows are
// attached alongside it.
type KeyView struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	MaskedSecret  string              `json:"api_key_masked"`
	Status        string              `json:"status"`
	TotalRequests int64               `json:"total_requests"`
	UsageLast1m   int64               `json:"usage_last_1m"`
	UsageLast1h   int64               `json:"usage_last_1h"`
	UsageLast24h  int64               `json:"usage_last_24h"`
	LastUsedAt    *time.Time          `json:"last_used_at,omitempty"`
	LastProbe     *models.ProbeResult `json:"last_probe,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// GetKey returns the admin view of one key.
func (m *Manager) GetKey(ctx context.Context, keyID string) (*KeyView, error) {
	key, errGet := m.store.GetByID(ctx, keyID)
	if errGet != nil {
		return nil, errGet
	}
	view := m.view(key)
	return &view, nil
}

// ListKeys returns one page of admin key views, optionally filtered by
// status, plus the filtered total for pagination.
func (m *Manager) ListKeys(ctx context.Context, status string, page, pageSize int) ([]KeyView, int64, error) {
	if status != "" {
		parsed, errParse := ParseStatus(status)
		if errParse != nil {
			return nil, 0, errParse
		}
		status = parsed
	}
	rows, total, errList := m.store.ListPaginated(ctx, status, page, pageSize)
	if errList != nil {
		return nil, 0, errList
	}
	views := make([]KeyView, 0, len(rows))
	for i := range rows {
		views = append(views, m.view(&rows[i]))
	}
	return views, total, nil
}

// PoolStats is the aggregate view over the whole pool.
type PoolStats struct {
	TotalKeys                 int64 `json:"total_keys_count"`
	ActiveKeys                int64 `json:"active_keys_count"`
	InactiveKeys              int64 `json:"inactive_keys_count"`
	RevokedKeys               int64 `json:"revoked_keys_count"`
	GrandTotalUsageLastMinute int64 `json:"grand_total_usage_last_1m"`
	GrandTotalUsageLastHour   int64 `json:"grand_total_usage_last_1h"`
	GrandTotalUsageLast24h    int64 `json:"grand_total_usage_last_24h"`
	// GrandTotalRequests is the persisted all-time counter and survives
	// restarts, unlike the windowed counts which cover this process only.
	GrandTotalRequests int64 `json:"grand_total_requests_all_time"`
}

// GlobalStats aggregates pool composition and traffic.
func (m *Manager) GlobalStats(ctx context.Context) (PoolStats, error) {
	counts, errCount := m.store.CountByStatus(ctx)
	if errCount != nil {
		return PoolStats{}, errCount
	}
	grand, errSum := m.store.SumTotalRequests(ctx)
	if errSum != nil {
		return PoolStats{}, errSum
	}
	usage := m.accountant.GlobalStats()
	stats := PoolStats{
		ActiveKeys:                counts[models.KeyStatusActive],
		InactiveKeys:              counts[models.KeyStatusInactive],
		RevokedKeys:               counts[models.KeyStatusRevoked],
		GrandTotalUsageLastMinute: usage.LastMinute,
		GrandTotalUsageLastHour:   usage.LastHour,
		GrandTotalUsageLast24h:    usage.Last24h,
		GrandTotalRequests:        grand,
	}
	stats.TotalKeys = stats.ActiveKeys + stats.InactiveKeys + stats.RevokedKeys
	return stats, nil
}

func (m *Manager) view(key *models.Key) KeyView {
	usage := m.accountant.StatsFor(key.ID)
	view := KeyView{
		ID:            key.ID,
		Name:          key.Name,
		MaskedSecret:  util.MaskSecret(key.Secret),
		Status:        key.Status,
		TotalRequests: usage.AllTime,
		UsageLast1m:   usage.LastMinute,
		UsageLast1h:   usage.LastHour,
		UsageLast24h:  usage.Last24h,
		LastUsedAt:    key.LastUsedAt,
		CreatedAt:     key.CreatedAt,
	}
	// The persisted counter survives restarts but trails the in-memory one
	// while background touches are in flight; show whichever is ahead.
	if key.TotalRequests > view.TotalRequests {
		view.TotalRequests = key.TotalRequests
	}
	if probe, errDecode := key.DecodeLastProbe(); errDecode == nil && probe != nil {
		view.LastProbe = probe
	}
	return view
}

func (m *Manager) validSecret(secret string) bool {
	if secret == "" {
		return false
	}
	if m.secretPrefix != "" && !strings.HasPrefix(secret, m.secretPrefix) {
		return false
	}
	return len(secret) > len(m.secretPrefix)
}

// splitKeyLine parses "secret" or "secret,name".
func splitKeyLine(line string) (secret, name string) {
	if idx := strings.IndexByte(line, ','); idx >= 0 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:])
	}
	return line, ""
}
