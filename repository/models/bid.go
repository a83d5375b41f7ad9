package models

import "time"

// Bid is an accepted bid on a property's auction
type Bid struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	PropertyID uint64    `gorm:"column:property_id;index"`
	Bidder     string    `gorm:"column:bidder;type:varchar(40);index"`
	Amount     string    `gorm:"column:amount;type:varchar(80)"`
	Height     int64     `gorm:"column:height"`
	TxHash     string    `gorm:"column:tx_hash;type:varchar(64);uniqueIndex"`
	PlacedAt   time.Time `gorm:"column:placed_at"`
}
