package common

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"srs/src/config"
	"srs/src/db"
	"srs/src/models"
	"srs/src/types"
)

// All reservation state transitions live here. Every operation runs as
// one transaction and takes its row locks in the same order, product
// first and reservation second, so concurrent calls serialize instead
// of deadlocking. ACTIVE is the only non-terminal status; every
// transition out of it releases stock except completion.

func lockForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// lockProduct acquires the product row lock for the enclosing
// transaction. A missing product is tolerated with a nil result: a
// dangling reservation can outlive its product only after an
// administrative delete, and releasing nothing is the safe answer.
func lockProduct(tx *gorm.DB, productID uint) (*models.Product, error) {
	var product models.Product
	if err := lockForUpdate(tx).
		Where(&models.Product{ID: productID}).
		First(&product).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Product [%d] is gone, nothing to lock\n", productID)
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

func addStock(tx *gorm.DB, productID uint, qty int) error {
	return tx.
		Model(&models.Product{}).
		Where(&models.Product{ID: productID}).
		Update("available_stock", gorm.Expr("available_stock + ?", qty)).
		Error
}

func finalizeReservation(tx *gorm.DB, res *models.Reservation, status types.ReservationStatus, at time.Time) error {
	if err := tx.
		Model(&models.Reservation{}).
		Where(&models.Reservation{ID: res.ID}).
		Updates(map[string]any{
			"status":     string(status),
			"expires_at": at,
		}).Error; err != nil {
		return err
	}
	res.Status = string(status)
	res.ExpiresAt = at
	return nil
}

// CreateReservation holds qty units of a product for a user. Repeated
// calls for the same user/product merge into the existing active row,
// and any call renews the expiry window of every active reservation the
// user holds.
func CreateReservation(userID string, productID uint, qty int) (*models.Reservation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	gdb := db.GetDb()
	var reservation models.Reservation
	var stockLeft int
	isNew := false
	now := time.Now()
	expiry := now.Add(config.ReservationTTL)
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := lockForUpdate(tx).
			Where(&models.Product{ID: productID}).
			First(&product).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProductNotFound
			}
			return err
		}
		if product.AvailableStock < qty {
			return ErrInsufficientStock
		}
		if err := tx.
			Model(&models.Product{}).
			Where(&models.Product{ID: productID}).
			Update("available_stock", gorm.Expr("available_stock - ?", qty)).
			Error; err != nil {
			return err
		}
		stockLeft = product.AvailableStock - qty

		var existing models.Reservation
		err := lockForUpdate(tx).
			Where(&models.Reservation{
				UserID:    userID,
				ProductID: productID,
				Status:    string(types.RESERVATION_ACTIVE),
			}).
			First(&existing).
			Error
		if err == nil {
			if err := tx.
				Model(&models.Reservation{}).
				Where(&models.Reservation{ID: existing.ID}).
				Updates(map[string]any{
					"quantity":   gorm.Expr("quantity + ?", qty),
					"expires_at": expiry,
				}).Error; err != nil {
				return err
			}
			existing.Quantity += qty
			existing.ExpiresAt = expiry
			reservation = existing
		} else if errors.Is(err, gorm.ErrRecordNotFound) {
			reservation = models.Reservation{
				ProductID: productID,
				UserID:    userID,
				Quantity:  qty,
				Status:    string(types.RESERVATION_ACTIVE),
				ExpiresAt: expiry,
			}
			if err := tx.Create(&reservation).Error; err != nil {
				return err
			}
			isNew = true
		} else {
			return err
		}

		// One product touch extends the whole cart's grace window.
		if err := tx.
			Model(&models.Reservation{}).
			Where(&models.Reservation{UserID: userID, Status: string(types.RESERVATION_ACTIVE)}).
			Update("expires_at", expiry).
			Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if isNew {
		// The timer is best-effort secondary state. Losing it never
		// strands stock, the sweep reclaims overdue rows on its own.
		if _, err := ScheduleExpiry(reservation.ID, expiry); err != nil {
			log.Printf("Error scheduling expiry for Reservation [%d]: %s\n", reservation.ID, err.Error())
		}
	}
	PublishStockChanged([]types.StockUpdate{{ProductID: productID, AvailableStock: stockLeft}})
	PublishUserReservationsChanged(userID)
	return &reservation, nil
}

// CompleteReservation finalizes the sale. Completion never succeeds
// past the deadline: an overdue reservation is expired on read, its
// stock restored and the transition committed before the call fails
// with ErrReservationExpired.
func CompleteReservation(id uint) (*models.Reservation, error) {
	gdb := db.GetDb()
	var reservation models.Reservation
	var stock []types.StockUpdate
	expiredOnRead := false
	now := time.Now()
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var peek models.Reservation
		if err := tx.Where(&models.Reservation{ID: id}).First(&peek).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return err
		}
		if peek.Status == string(types.RESERVATION_COMPLETED) {
			reservation = peek
			return nil
		}
		if peek.Status == string(types.RESERVATION_EXPIRED) {
			return ErrReservationExpired
		}

		product, err := lockProduct(tx, peek.ProductID)
		if err != nil {
			return err
		}
		var res models.Reservation
		if err := lockForUpdate(tx).
			Where(&models.Reservation{ID: id}).
			First(&res).
			Error; err != nil {
			return err
		}
		if res.Status == string(types.RESERVATION_COMPLETED) {
			reservation = res
			return nil
		}
		if res.Status == string(types.RESERVATION_EXPIRED) {
			return ErrReservationExpired
		}
		if res.Overdue(now) {
			// The timer or sweep has not caught up yet. Reclaim the
			// stock and commit, the error is surfaced after commit.
			if product != nil {
				if err := addStock(tx, res.ProductID, res.Quantity); err != nil {
					return err
				}
				stock = append(stock, types.StockUpdate{ProductID: res.ProductID, AvailableStock: product.AvailableStock + res.Quantity})
			}
			if err := finalizeReservation(tx, &res, types.RESERVATION_EXPIRED, now); err != nil {
				return err
			}
			reservation = res
			expiredOnRead = true
			return nil
		}
		if err := finalizeReservation(tx, &res, types.RESERVATION_COMPLETED, now); err != nil {
			return err
		}
		reservation = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(stock) > 0 {
		PublishStockChanged(stock)
	}
	PublishUserReservationsChanged(reservation.UserID)
	if expiredOnRead {
		return &reservation, ErrReservationExpired
	}
	return &reservation, nil
}

// CancelReservation releases an active hold back to the pool. Anything
// already terminal is returned unchanged, stock is never released
// twice.
func CancelReservation(id uint) (*models.Reservation, error) {
	gdb := db.GetDb()
	var reservation models.Reservation
	var stock []types.StockUpdate
	now := time.Now()
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var peek models.Reservation
		if err := tx.Where(&models.Reservation{ID: id}).First(&peek).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return err
		}
		if !peek.IsActive() {
			reservation = peek
			return nil
		}
		product, err := lockProduct(tx, peek.ProductID)
		if err != nil {
			return err
		}
		var res models.Reservation
		if err := lockForUpdate(tx).
			Where(&models.Reservation{ID: id}).
			First(&res).
			Error; err != nil {
			return err
		}
		if !res.IsActive() {
			// Lost the race against a concurrent transition.
			reservation = res
			return nil
		}
		if product != nil {
			if err := addStock(tx, res.ProductID, res.Quantity); err != nil {
				return err
			}
			stock = append(stock, types.StockUpdate{ProductID: res.ProductID, AvailableStock: product.AvailableStock + res.Quantity})
		}
		if err := finalizeReservation(tx, &res, types.RESERVATION_EXPIRED, now); err != nil {
			return err
		}
		reservation = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(stock) > 0 {
		PublishStockChanged(stock)
		PublishUserReservationsChanged(reservation.UserID)
	}
	return &reservation, nil
}

// ExpireReservation is the reconciler's entry point, fed by both the
// one-shot timers and the periodic sweep. It is idempotent: a missing
// row, an already finalized row, or a renewed-in-the-meantime row all
// mean there is nothing to do, so duplicate and stale firings are
// harmless.
func ExpireReservation(id uint) error {
	gdb := db.GetDb()
	var userID string
	var stock []types.StockUpdate
	now := time.Now()
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var peek models.Reservation
		if err := tx.Where(&models.Reservation{ID: id}).First(&peek).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !peek.IsActive() || !peek.Overdue(now) {
			return nil
		}
		product, err := lockProduct(tx, peek.ProductID)
		if err != nil {
			return err
		}
		var res models.Reservation
		if err := lockForUpdate(tx).
			Where(&models.Reservation{ID: id}).
			First(&res).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !res.IsActive() || !res.Overdue(now) {
			// Finalized concurrently, or renewed after this firing was
			// scheduled. The stale event is discarded, not acted on.
			return nil
		}
		if product != nil {
			if err := addStock(tx, res.ProductID, res.Quantity); err != nil {
				return err
			}
			stock = append(stock, types.StockUpdate{ProductID: res.ProductID, AvailableStock: product.AvailableStock + res.Quantity})
		}
		if err := finalizeReservation(tx, &res, types.RESERVATION_EXPIRED, now); err != nil {
			return err
		}
		userID = res.UserID
		return nil
	})
	if err != nil {
		return err
	}
	if userID != "" {
		if len(stock) > 0 {
			PublishStockChanged(stock)
		}
		PublishUserReservationsChanged(userID)
	}
	return nil
}

func GetReservation(id uint) (*models.Reservation, error) {
	gdb := db.GetDb()
	var reservation models.Reservation
	if err := gdb.
		Model(&models.Reservation{}).
		Where(&models.Reservation{ID: id}).
		Preload("Product").
		First(&reservation).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &reservation, nil
}

func GetOwnReservations(userID string) ([]models.Reservation, error) {
	gdb := db.GetDb()
	var reservations []models.Reservation
	err := gdb.
		Model(&models.Reservation{}).
		Where(&models.Reservation{UserID: userID}).
		Preload("Product").
		Order("created_at DESC").
		Limit(50).
		Find(&reservations).
		Error
	return reservations, err
}
