package models

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var GormDB *gorm.DB

// InitDB 打开 MySQL 连接并自动建表
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn: db,
	}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("GORM 初始化失败: %w", err)
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	GormDB = gdb
	return gdb, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ArtifactRecord{}); err != nil {
		return fmt.Errorf("自动建表失败: %w", err)
	}
	return nil
}
