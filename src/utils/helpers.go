package utils

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"srs/src/db"
	"srs/src/lib"
	"srs/src/models"
	"srs/src/types"
)

const productsCacheKey = "products"
const productsCacheTTL = 30 * time.Second

var demoCatalog = []models.Product{
	{Name: "Mechanical Keyboard", Price: 129.99, AvailableStock: 10, TotalStock: 10},
	{Name: "4K Webcam", Price: 89.50, AvailableStock: 5, TotalStock: 5},
	{Name: "USB-C Dock", Price: 149.00, AvailableStock: 8, TotalStock: 8},
	{Name: "Noise Cancelling Headset", Price: 199.99, AvailableStock: 3, TotalStock: 3},
}

// SeedCatalog inserts the demo products once, on an empty table.
func SeedCatalog() error {
	gdb := db.GetDb()
	return gdb.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Product{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, p := range demoCatalog {
			p.Slug = slug.Make(p.Name)
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
		}
		log.Printf("Seeded catalog with %d products\n", len(demoCatalog))
		return nil
	})
}

// ListProducts returns the catalog with availability, served from the
// redis cache when fresh. The cache is an optimization only, a cold or
// absent redis falls through to the database.
func ListProducts() ([]models.Product, error) {
	rdb := lib.GetRedisClient()
	if rdb != nil {
		val, err := rdb.Get(context.Background(), productsCacheKey).Result()
		if err == nil && val != "" {
			var cached []models.Product
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return cached, nil
			}
		}
	}

	gdb := db.GetDb()
	var products []models.Product
	if err := gdb.
		Model(&models.Product{}).
		Order("id asc").
		Find(&products).
		Error; err != nil {
		return nil, err
	}
	for i := range products {
		stats, err := GetProductStats(products[i].ID)
		if err != nil {
			log.Printf("Error computing stats for Product [%d]: %s\n", products[i].ID, err.Error())
			continue
		}
		products[i].Stats = stats
	}

	if rdb != nil {
		if b, err := json.Marshal(products); err == nil {
			if err := rdb.SetEx(context.Background(), productsCacheKey, string(b), productsCacheTTL).Err(); err != nil {
				log.Printf("Error caching value [%s]: %s\n", productsCacheKey, err.Error())
			}
		}
	}
	return products, nil
}

func GetProduct(id uint) (*models.Product, error) {
	gdb := db.GetDb()
	var product models.Product
	if err := gdb.
		Model(&models.Product{}).
		Where(&models.Product{ID: id}).
		First(&product).
		Error; err != nil {
		return nil, err
	}
	stats, err := GetProductStats(id)
	if err != nil {
		return nil, err
	}
	product.Stats = stats
	return &product, nil
}

// GetProductStats splits a product's total stock into free slots and
// quantities held by active reservations.
func GetProductStats(productID uint) (*models.ProductStats, error) {
	gdb := db.GetDb()
	var reserved int64
	err := gdb.
		Model(&models.Reservation{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where(&models.Reservation{ProductID: productID, Status: string(types.RESERVATION_ACTIVE)}).
		Scan(&reserved).
		Error
	if err != nil {
		return nil, err
	}
	var product models.Product
	if err := gdb.
		Model(&models.Product{}).
		Select("available_stock").
		Where(&models.Product{ID: productID}).
		First(&product).
		Error; err != nil {
		return nil, err
	}
	stats := &models.ProductStats{
		ProductID: productID,
		Free:      product.AvailableStock,
		Reserved:  int(reserved),
	}
	return stats, nil
}

// ResetDemo wipes every reservation and scheduled task and restores
// each product's available stock to its seeded total. Administrative
// bulk reset, not part of the normal lifecycle.
func ResetDemo() error {
	gdb := db.GetDb()
	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Session(&gorm.Session{AllowGlobalUpdate: true}).
			Unscoped().
			Delete(&models.Reservation{}).
			Error; err != nil {
			return err
		}
		if err := tx.
			Session(&gorm.Session{AllowGlobalUpdate: true}).
			Unscoped().
			Delete(&models.JobTask{}).
			Error; err != nil {
			return err
		}
		if err := tx.
			Session(&gorm.Session{AllowGlobalUpdate: true}).
			Model(&models.Product{}).
			Update("available_stock", gorm.Expr("total_stock")).
			Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rdb := lib.GetRedisClient(); rdb != nil {
		if err := rdb.Del(context.Background(), productsCacheKey).Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Error invalidating catalog cache: %s\n", err.Error())
		}
	}
	return SeedCatalog()
}
