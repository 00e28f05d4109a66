package model

import "time"

// Role 表示用户角色。
type Role string

const (
	RoleSuperAdmin Role = "super_admin" // 超级管理员：账号、号码分配、全局统计
	RoleCCAgent    Role = "cc_agent"    // 外呼坐席：拨打号码、创建并转交线索
	RoleCROAgent   Role = "cro_agent"   // 跟进专员：接收转交的线索
)

// Valid 判断角色是否为已知角色。
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleCCAgent, RoleCROAgent:
		return true
	}
	return false
}

// IsAgent 判断是否为坐席角色（可被分配号码、提交日报）。
func (r Role) IsAgent() bool {
	return r == RoleCCAgent || r == RoleCROAgent
}

// User 表示系统用户。
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`                                 // 用户 ID
	Email        string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"` // 邮箱（唯一，小写）
	Password     string    `gorm:"not null" json:"-"`                                    // bcrypt 哈希
	Name         string    `gorm:"type:varchar(191);not null" json:"name"`               // 姓名
	Phone        string    `gorm:"type:varchar(32)" json:"phone"`                        // 电话
	Role         Role      `gorm:"type:varchar(16);not null;index" json:"role"`          // 角色
	ProfileImage string    `gorm:"type:varchar(255)" json:"profileImage"`                // 头像引用
	CreatedAt    time.Time `json:"createdAt"`                                            // 创建时间
	UpdatedAt    time.Time `json:"updatedAt"`                                            // 更新时间
}

// Profile 是对外返回的用户资料（不含密码）。
type Profile struct {
	ID           uint      `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	Phone        string    `json:"phone"`
	ProfileImage string    `json:"profileImage"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ToProfile 将 User 转换为对外资料。
func (u *User) ToProfile() Profile {
	return Profile{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		Phone:        u.Phone,
		ProfileImage: u.ProfileImage,
		CreatedAt:    u.CreatedAt,
	}
}
