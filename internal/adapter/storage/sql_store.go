package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

// SQLStore implements port.Store on top of gorm. The same code runs against
// MySQL in production and SQLite for tests and single-node deployments.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	for _, table := range []string{interiorItemTable, exteriorItemTable} {
		if err := db.Table(table).AutoMigrate(&itemRow{}); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}
	}
	for _, table := range []string{interiorSerialsTable, exteriorSerialsTable} {
		if err := db.Table(table).AutoMigrate(&serialRow{}); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}
	}
	if err := db.AutoMigrate(&requestRow{}, &movementRow{}, &userRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) GetItem(ctx context.Context, d domain.InventoryDomain, itemID string) (*domain.Item, error) {
	db := s.db.WithContext(ctx)

	var row itemRow
	err := db.Table(itemTable(d)).Where("id = ?", itemID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}

	var serials []string
	if err := db.Table(serialsTable(d)).Where("item_id = ?", itemID).Order("serial").Pluck("serial", &serials).Error; err != nil {
		return nil, fmt.Errorf("query serials: %w", err)
	}

	item := row.toDomain(d, serials)
	return &item, nil
}

func (s *SQLStore) ListItems(ctx context.Context, d domain.InventoryDomain) ([]domain.Item, error) {
	db := s.db.WithContext(ctx)

	var rows []itemRow
	if err := db.Table(itemTable(d)).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	if len(rows) == 0 {
		return []domain.Item{}, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	var serials []serialRow
	if err := db.Table(serialsTable(d)).Where("item_id IN ?", ids).Order("serial").Find(&serials).Error; err != nil {
		return nil, fmt.Errorf("query serials: %w", err)
	}
	byItem := make(map[string][]string, len(rows))
	for _, sr := range serials {
		byItem[sr.ItemID] = append(byItem[sr.ItemID], sr.Serial)
	}

	items := make([]domain.Item, len(rows))
	for i, r := range rows {
		items[i] = r.toDomain(d, byItem[r.ID])
	}
	return items, nil
}

func (s *SQLStore) CreateItem(ctx context.Context, item domain.Item) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toItemRow(item)
		if err := tx.Table(itemTable(item.Domain)).Create(&row).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: item %s already exists", domain.ErrConflict, item.ID)
			}
			return fmt.Errorf("insert item: %w", err)
		}
		return insertSerials(tx, item.Domain, item.ID, item.SerialNumbers, false)
	})
}

func (s *SQLStore) UpdateItem(ctx context.Context, item domain.Item) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		table := itemTable(item.Domain)

		var count int64
		if err := tx.Table(table).Where("id = ?", item.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("query item: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s item %s", domain.ErrNotFound, item.Domain, item.ID)
		}

		row := toItemRow(item)
		err := tx.Table(table).Where("id = ?", item.ID).Updates(map[string]interface{}{
			"brand":       row.Brand,
			"model":       row.Model,
			"description": row.Description,
			"supplier":    row.Supplier,
			"unit":        row.Unit,
			"unit_price":  row.UnitPrice,
			"quantity":    row.Quantity,
			"categories":  row.Categories,
			"updated_at":  row.UpdatedAt,
		}).Error
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}

		if err := tx.Table(serialsTable(item.Domain)).Where("item_id = ?", item.ID).Delete(&serialRow{}).Error; err != nil {
			return fmt.Errorf("clear serials: %w", err)
		}
		return insertSerials(tx, item.Domain, item.ID, item.SerialNumbers, false)
	})
}

func (s *SQLStore) DeleteItem(ctx context.Context, d domain.InventoryDomain, itemID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(serialsTable(d)).Where("item_id = ?", itemID).Delete(&serialRow{}).Error; err != nil {
			return fmt.Errorf("delete serials: %w", err)
		}
		if err := tx.Table(itemTable(d)).Where("id = ?", itemID).Delete(&itemRow{}).Error; err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) CreateRequest(ctx context.Context, req domain.InventoryRequest) error {
	row := toRequestRow(req)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRequest(ctx context.Context, requestID string) (*domain.InventoryRequest, error) {
	var row requestRow
	err := s.db.WithContext(ctx).Where("id = ?", requestID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}

	req := row.toDomain()
	return &req, nil
}

func (s *SQLStore) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.InventoryRequest, error) {
	q := s.db.WithContext(ctx).Model(&requestRow{})
	if filter.State != "" {
		q = q.Where("state = ?", string(filter.State))
	}
	if filter.RequesterID != "" {
		q = q.Where("requester_id = ?", filter.RequesterID)
	}
	if !filter.RequestedBefore.IsZero() {
		q = q.Where("requested_at < ?", filter.RequestedBefore)
	}

	var rows []requestRow
	if err := q.Order("requested_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}

	reqs := make([]domain.InventoryRequest, len(rows))
	for i, r := range rows {
		reqs[i] = r.toDomain()
	}
	return reqs, nil
}

func (s *SQLStore) CommitDecision(ctx context.Context, processed domain.InventoryRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&requestRow{}).
			Where("id = ? AND state = ?", processed.ID, string(domain.StatePending)).
			Updates(map[string]interface{}{
				"state":           string(processed.State),
				"reason_rejected": processed.ReasonRejected,
				"approver_id":     processed.ApproverID,
				"approved_at":     processed.ApprovedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("update request: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return requestMiss(tx, processed.ID)
		}

		if processed.State != domain.StateApproved {
			return nil
		}
		return applyMovement(tx, processed)
	})
}

// applyMovement changes stock and serials for an approved request and records
// the movement. Any miss returns a domain error and rolls the transaction back.
func applyMovement(tx *gorm.DB, req domain.InventoryRequest) error {
	table := itemTable(req.Domain)
	now := time.Now().UTC()
	if req.ApprovedAt != nil {
		now = *req.ApprovedAt
	}

	var result *gorm.DB
	if req.MovementType == domain.MovementExit {
		result = tx.Table(table).
			Where("id = ? AND quantity >= ?", req.ItemID, req.Quantity).
			Updates(map[string]interface{}{
				"quantity":   gorm.Expr("quantity - ?", req.Quantity),
				"updated_at": now,
			})
	} else {
		result = tx.Table(table).
			Where("id = ?", req.ItemID).
			Updates(map[string]interface{}{
				"quantity":   gorm.Expr("quantity + ?", req.Quantity),
				"updated_at": now,
			})
	}
	if result.Error != nil {
		return fmt.Errorf("update stock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return stockMiss(tx, req)
	}

	if req.MovementType == domain.MovementExit {
		if err := removeSerials(tx, req.Domain, req.ItemID, req.SerialNumbers); err != nil {
			return err
		}
	} else if err := insertSerials(tx, req.Domain, req.ItemID, req.SerialNumbers, true); err != nil {
		return err
	}

	mv := movementRow{
		ID:          uuid.NewString(),
		Domain:      string(req.Domain),
		ItemID:      req.ItemID,
		Type:        string(req.MovementType),
		Quantity:    req.Quantity,
		RequestID:   req.ID,
		PerformedBy: req.ApproverID,
		CreatedAt:   now,
	}
	if err := tx.Create(&mv).Error; err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func insertSerials(tx *gorm.DB, d domain.InventoryDomain, itemID string, serials []string, skipExisting bool) error {
	if len(serials) == 0 {
		return nil
	}

	rows := make([]serialRow, len(serials))
	for i, sn := range serials {
		rows[i] = serialRow{ItemID: itemID, Serial: sn}
	}

	q := tx.Table(serialsTable(d))
	if skipExisting {
		q = q.Clauses(clause.OnConflict{DoNothing: true})
	}
	if err := q.Create(&rows).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: duplicate serial for item %s", domain.ErrInvalidSerials, itemID)
		}
		return fmt.Errorf("insert serials: %w", err)
	}
	return nil
}

func removeSerials(tx *gorm.DB, d domain.InventoryDomain, itemID string, serials []string) error {
	if len(serials) == 0 {
		return nil
	}

	result := tx.Table(serialsTable(d)).Where("item_id = ? AND serial IN ?", itemID, serials).Delete(&serialRow{})
	if result.Error != nil {
		return fmt.Errorf("delete serials: %w", result.Error)
	}
	if result.RowsAffected != int64(len(serials)) {
		return fmt.Errorf("%w: item %s no longer holds all of %v", domain.ErrInvalidSerials, itemID, serials)
	}
	return nil
}

// requestMiss explains why the conditional state write matched nothing.
func requestMiss(tx *gorm.DB, requestID string) error {
	var row requestRow
	err := tx.Select("id", "state").Where("id = ?", requestID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: request %s", domain.ErrNotFound, requestID)
	}
	if err != nil {
		return fmt.Errorf("query request: %w", err)
	}
	return fmt.Errorf("%w: request %s is %s", domain.ErrAlreadyProcessed, requestID, row.State)
}

// stockMiss explains why the conditional stock update matched nothing.
func stockMiss(tx *gorm.DB, req domain.InventoryRequest) error {
	var row itemRow
	err := tx.Table(itemTable(req.Domain)).Select("id", "quantity").Where("id = ?", req.ItemID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s item %s", domain.ErrNotFound, req.Domain, req.ItemID)
	}
	if err != nil {
		return fmt.Errorf("query item: %w", err)
	}
	return fmt.Errorf("%w: item %s has %d, requested %d",
		domain.ErrInsufficientStock, req.ItemID, row.Quantity, req.Quantity)
}

func (s *SQLStore) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error) {
	q := s.db.WithContext(ctx).Model(&movementRow{})
	if filter.Domain != "" {
		q = q.Where("domain = ?", string(filter.Domain))
	}
	if filter.ItemID != "" {
		q = q.Where("item_id = ?", filter.ItemID)
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at <= ?", filter.To)
	}

	var rows []movementRow
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}

	out := make([]domain.Movement, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user domain.User) error {
	row := userRow{ID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin, CreatedAt: user.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: username %q is taken", domain.ErrConflict, user.Username)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.findUser(ctx, "id = ?", userID)
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findUser(ctx, "username = ?", username)
}

func (s *SQLStore) findUser(ctx context.Context, query string, arg string) (*domain.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where(query, arg).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	u := row.toDomain()
	return &u, nil
}

func (s *SQLStore) UsernamesByID(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	var rows []userRow
	if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", dedupe(userIDs)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	for _, r := range rows {
		names[r.ID] = r.Username
	}
	return names, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
