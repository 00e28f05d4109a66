package model

import (
	"time"
)

// Category 表示一次外呼的结果分类。
type Category string

const (
	CategorySwitchedOff   Category = "switched_off"
	CategoryBusy          Category = "busy"
	CategoryNoAnswer      Category = "no_answer"
	CategoryNotInterested Category = "not_interested"
	CategoryInterested    Category = "interested"
)

// Valid 判断分类是否为允许的取值。
func (c Category) Valid() bool {
	switch c {
	case CategorySwitchedOff, CategoryBusy, CategoryNoAnswer, CategoryNotInterested, CategoryInterested:
		return true
	}
	return false
}

// LeadStatus 表示线索状态。
type LeadStatus string

const (
	LeadStatusActive      LeadStatus = "active"
	LeadStatusTransferred LeadStatus = "transferred"
)

// CallNumber 表示分配给坐席的一个待拨号码。
//
// Category 为空表示尚未拨打/分类；CategorizedAt 在每次分类时刷新。
type CallNumber struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	PhoneNumber     string     `gorm:"type:varchar(32);not null" json:"phoneNumber"`
	AssignedAgentID uint       `gorm:"not null;index" json:"assignedAgentId"`
	Category        *Category  `gorm:"type:varchar(32)" json:"category"`
	CreatedAt       time.Time  `json:"createdAt"`
	CategorizedAt   *time.Time `json:"categorizedAt"`
}

// Lead 表示由外呼坐席从有意向的通话中创建的客户线索。
//
// 约束：Status == transferred 当且仅当 TransferredTo 非空。
// 线索只会被转交一次，且从不删除。
type Lead struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ProfileID      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"profileId"` // 对外展示的线索编号
	CustomerName   string     `gorm:"type:varchar(191);not null" json:"customerName"`
	CustomerNumber string     `gorm:"type:varchar(32);not null" json:"customerNumber"`
	Biodata        string     `gorm:"type:varchar(255)" json:"biodata"` // 上传文件路径
	Description    string     `gorm:"type:text" json:"description"`
	AgentID        uint       `gorm:"not null;index" json:"agentId"` // 创建线索的坐席
	Status         LeadStatus `gorm:"type:varchar(16);not null;default:active;index" json:"status"`
	TransferredTo  *uint      `gorm:"index" json:"transferredTo"` // 接收线索的 CRO 坐席
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Report 表示坐席提交的一份工作日报。同一天可以提交多份。
type Report struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AgentID      uint      `gorm:"not null;index" json:"agentId"`
	OnlineCalls  int       `gorm:"not null" json:"onlineCalls"`
	OfflineCalls int       `gorm:"not null" json:"offlineCalls"`
	TotalLeads   int       `gorm:"not null" json:"totalLeads"`
	ReportDate   time.Time `gorm:"index" json:"reportDate"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DailyTask 记录坐席某一天的任务计数，每个 (坐席, 日期) 一行。
//
// TaskDate 使用 "2006-01-02" 格式的日历日；跨天后查询不到当天记录即视为全部归零。
type DailyTask struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	AgentID          uint   `gorm:"not null;uniqueIndex:idx_daily_tasks_agent_day" json:"agentId"`
	TaskDate         string `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_tasks_agent_day" json:"taskDate"`
	LeadsAdded       int    `gorm:"not null;default:0" json:"leadsAdded"`
	LeadsTransferred int    `gorm:"not null;default:0" json:"leadsTransferred"`
	ReportSubmitted  bool   `gorm:"not null;default:false" json:"reportSubmitted"`
}

// NumberUpload 是管理员分配号码的审计记录，创建后不可修改。
type NumberUpload struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UploadedBy      uint      `gorm:"not null;index" json:"uploadedBy"`
	AssignedAgentID uint      `gorm:"not null;index" json:"assignedAgentId"`
	FileName        string    `gorm:"type:varchar(255);not null" json:"fileName"`
	NumbersCount    int       `gorm:"not null" json:"numbersCount"`
	UploadDate      time.Time `gorm:"index" json:"uploadDate"`
}

// Stats 是管理员看板的汇总统计。
type Stats struct {
	TotalCalls       int64 `json:"totalCalls"`
	TotalLeads       int64 `json:"totalLeads"`
	TotalUsers       int64 `json:"totalUsers"`
	TransferredLeads int64 `json:"transferredLeads"`
}

// AllModels 返回需要自动迁移的模型列表。
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&CallNumber{},
		&Lead{},
		&Report{},
		&DailyTask{},
		&NumberUpload{},
	}
}
