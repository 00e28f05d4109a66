package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callcrm/internal/config"
	"callcrm/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// DayLayout 是 DailyTask.TaskDate 使用的日期格式。
const DayLayout = "2006-01-02"

var (
	ErrNotFound               = errors.New("record not found")
	ErrEmailTaken             = errors.New("email already exists")
	ErrNotOwner               = errors.New("record not owned by caller")
	ErrLeadAlreadyTransferred = errors.New("lead already transferred")
	ErrInvalidTransferTarget  = errors.New("transfer target is not a cro agent")
	ErrInvalidAgent           = errors.New("user is not an agent")
)

// Store 封装了 CRM 所有的数据访问。
//
// 所有计数器更新都通过单条 upsert 语句完成，不存在“读-改-写”窗口。
type Store struct {
	db  *gorm.DB
	loc *time.Location
	now func() time.Time
}

// Option 用于定制 Store。
type Option func(*Store)

// WithLocation 设置计算“今天”所用的时区。
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock 替换时钟，测试中用于固定日期。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open 按配置的驱动打开数据库连接。
//
// 支持 mysql（默认）、postgres 与 sqlite。sqlite 只允许单连接，避免写锁冲突。
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if driver == "sqlite" || driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		sqlDB.SetConnMaxIdleTime(30 * time.Second)
	}
	return db, nil
}

// New 创建 Store。
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		loc: time.Local,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate 自动迁移所有表结构。
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Ping 检查数据库连接是否可用。
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

// Close 关闭底层连接池。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Today 返回当前时区下的日历日，格式为 DayLayout。
func (s *Store) Today() string {
	return s.now().In(s.loc).Format(DayLayout)
}

// Location 返回 Store 使用的时区。
func (s *Store) Location() *time.Location {
	return s.loc
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
