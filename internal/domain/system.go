package domain

import (
	"time"
)

// Operation log actions
const (
	OprInitialize     = "initialize"
	OprDisconnect     = "disconnect"
	OprSendCampaign   = "send_campaign"
	OprCancelCampaign = "cancel_campaign"
)

// SysOprLog records an operation accepted on behalf of a tenant.
type SysOprLog struct {
	ID        int64     `json:"id,string"`
	OprName   string    `gorm:"index" json:"opr_name"` // tenant id
	OprIp     string    `json:"opr_ip"`
	OptAction string    `json:"opt_action"`
	OptDesc   string    `json:"opt_desc"`
	OptTime   time.Time `gorm:"index" json:"opt_time"`
}

// TableName Specify table name
func (SysOprLog) TableName() string {
	return "sys_opr_log"
}
