package models

import "time"

// SaleRecord is a completed transfer, by direct purchase or auction
type SaleRecord struct {
	SaleID     uint64    `gorm:"column:sale_id;primaryKey;autoIncrement:false"`
	PropertyID uint64    `gorm:"column:property_id;index"`
	Seller     string    `gorm:"column:seller;type:varchar(40)"`
	Buyer      string    `gorm:"column:buyer;type:varchar(40)"`
	Price      string    `gorm:"column:price;type:varchar(80)"`
	Via        string    `gorm:"column:via;type:varchar(10)"`
	Height     int64     `gorm:"column:height"`
	SoldAt     time.Time `gorm:"column:sold_at"`
}
