package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONMap JSON 对象字段
type JSONMap map[string]interface{}

// Value 实现 driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for JSONMap")
	}
	return json.Unmarshal(data, m)
}

// OperationLog 管理端操作审计日志
type OperationLog struct {
	ID         int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	AdminID    int64   `gorm:"index;not null" json:"admin_id"`
	Module     string  `gorm:"type:varchar(50);index;not null" json:"module"`
	Action     string  `gorm:"type:varchar(50);not null" json:"action"`
	TargetType *string `gorm:"type:varchar(50)" json:"target_type,omitempty"`
	TargetID   *int64  `json:"target_id,omitempty"`
	AfterData  JSONMap `gorm:"type:jsonb" json:"after_data,omitempty"`
	IP         string  `gorm:"type:varchar(45)" json:"ip"`
	UserAgent  *string `gorm:"type:varchar(255)" json:"user_agent,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName 表名
func (OperationLog) TableName() string {
	return "operation_logs"
}
