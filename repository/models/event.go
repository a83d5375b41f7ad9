package models

import "time"

// EventRecord is one event emitted by a committed transaction
type EventRecord struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Height     int64     `gorm:"column:height;index"`
	TxHash     string    `gorm:"column:tx_hash;type:varchar(64);uniqueIndex:idx_event_position"`
	EventIndex int       `gorm:"column:event_index;uniqueIndex:idx_event_position"`
	Type       string    `gorm:"column:type;type:varchar(40);index"`
	Sender     string    `gorm:"column:sender;type:varchar(40);index"`
	PropertyID *uint64   `gorm:"column:property_id;index"`
	LeaseID    *uint64   `gorm:"column:lease_id;index"`
	Attributes string    `gorm:"column:attributes;type:text"`
	BlockTime  time.Time `gorm:"column:block_time"`
}
