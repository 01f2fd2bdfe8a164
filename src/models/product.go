package models

import (
	"srs/src/types"
)

type Product struct {
	ID             uint    `gorm:"primarykey" json:"id"`
	Name           string  `json:"name"`
	Slug           string  `gorm:"index" json:"slug,omitempty"`
	Price          float32 `json:"price"`
	AvailableStock int     `json:"available_stock"`
	TotalStock     int     `json:"total_stock"`

	Reservations []Reservation `json:"reservations,omitempty"`

	Stats *ProductStats `gorm:"-" json:"stats,omitempty"`

	types.Timestamps
}

// ProductStats reports how a product's total stock is split between
// free slots and active reservations.
type ProductStats struct {
	ProductID uint `json:"product_id,omitempty"`
	Free      int  `json:"free"`
	Reserved  int  `json:"reserved"`
}
