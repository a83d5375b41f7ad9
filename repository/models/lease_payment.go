package models

import "time"

// LeasePayment is a rent or deposit payment made under a lease
type LeasePayment struct {
	ID              uint      `gorm:"column:id;primaryKey;autoIncrement"`
	LeaseID         uint64    `gorm:"column:lease_id;index"`
	Tenant          string    `gorm:"column:tenant;type:varchar(40);index"`
	Amount          string    `gorm:"column:amount;type:varchar(80)"`
	TransactionType string    `gorm:"column:transaction_type;type:varchar(20)"`
	Month           int       `gorm:"column:month"`
	Height          int64     `gorm:"column:height"`
	TxHash          string    `gorm:"column:tx_hash;type:varchar(64);uniqueIndex"`
	PaidAt          time.Time `gorm:"column:paid_at"`
}
