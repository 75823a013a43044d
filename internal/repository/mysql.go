package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/NathanMahpood/FinalProject-server/config"
	"github.com/NathanMahpood/FinalProject-server/internal/counterkey"
	"github.com/NathanMahpood/FinalProject-server/internal/model"
)

// mysqlDuplicateEntry MySQL唯一索引冲突错误码
const mysqlDuplicateEntry = 1062

type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
}

// querier *sql.DB 和 *sql.Tx 共同的查询接口
type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

func NewMySQLRepository() (*MySQLRepository, error) {
	masterDB, err := sql.Open("mysql", config.AppConfig.MySQL.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	masterDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB, err := sql.Open("mysql", config.AppConfig.MySQL.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	slaveDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		log.Printf("从数据库连接测试失败: %v，将使用主数据库代替", err)
		slaveDB = masterDB
	}

	return &MySQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}, nil
}

// isDuplicateKeyError 判断是否为唯一索引冲突
func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// EnsureSchema 建表并保证复合键唯一索引存在
// 只由抢到启动锁的实例调用，避免多实例并发建表
func (r *MySQLRepository) EnsureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS line_counters (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			line_id VARCHAR(64) NOT NULL,
			station_id VARCHAR(64) NOT NULL,
			counter INT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE KEY uniq_line_station (line_id, station_id)
		)`,
		`CREATE TABLE IF NOT EXISTS line_counter_members (
			counter_id BIGINT NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (counter_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS route_counters (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			station_id BIGINT NOT NULL,
			station_name VARCHAR(255) NOT NULL,
			line_short_name VARCHAR(64) NOT NULL,
			line_long_name VARCHAR(255) NOT NULL DEFAULT '',
			agency_name VARCHAR(255) NOT NULL DEFAULT '',
			route_mkt BIGINT NOT NULL,
			route_direction VARCHAR(32) NOT NULL DEFAULT '',
			counter INT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE KEY uniq_station_route (station_id, route_mkt, route_direction)
		)`,
		`CREATE TABLE IF NOT EXISTS route_counter_members (
			counter_id BIGINT NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (counter_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS stations (
			id BIGINT PRIMARY KEY,
			date DATETIME NOT NULL,
			code BIGINT NOT NULL,
			lat DOUBLE NOT NULL,
			lon DOUBLE NOT NULL,
			name VARCHAR(255) NOT NULL,
			city VARCHAR(255) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bus_routes (
			bus_line_id VARCHAR(64) PRIMARY KEY,
			stations JSON NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS report_logs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			variant VARCHAR(16) NOT NULL,
			action VARCHAR(16) NOT NULL,
			counter_key VARCHAR(128) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			reported_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.masterDB.Exec(stmt); err != nil {
			return fmt.Errorf("初始化数据库表失败: %w", err)
		}
	}

	return nil
}

// FindLineCounter 按复合键查询线路计数，无副作用
func (r *MySQLRepository) FindLineCounter(key counterkey.LineKey) (*model.LineCounter, error) {
	return r.getLineCounter(r.slaveDB, key)
}

func (r *MySQLRepository) getLineCounter(q querier, key counterkey.LineKey) (*model.LineCounter, error) {
	query := `SELECT id, line_id, station_id, counter, created_at, updated_at
			 FROM line_counters WHERE line_id = ? AND station_id = ?`
	row := q.QueryRow(query, key.LineID, key.StationID)

	var counter model.LineCounter
	err := row.Scan(&counter.ID, &counter.LineID, &counter.StationID,
		&counter.Counter, &counter.CreatedAt, &counter.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询线路计数失败: %w", err)
	}

	users, err := loadMembers(q, "line_counter_members", counter.ID)
	if err != nil {
		return nil, err
	}
	counter.Users = users

	return &counter, nil
}

// ListLineCounters 按可选的线路/车站过滤查询，按计数降序排列
func (r *MySQLRepository) ListLineCounters(lineID, stationID string, limit, offset int) ([]*model.LineCounter, error) {
	query := `SELECT id, line_id, station_id, counter, created_at, updated_at FROM line_counters WHERE 1=1`
	args := []interface{}{}

	if lineID != "" {
		query += " AND line_id = ?"
		args = append(args, lineID)
	}
	if stationID != "" {
		query += " AND station_id = ?"
		args = append(args, stationID)
	}

	query += " ORDER BY counter DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.slaveDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询线路计数列表失败: %w", err)
	}
	defer rows.Close()

	var counters []*model.LineCounter
	for rows.Next() {
		var counter model.LineCounter
		if err := rows.Scan(&counter.ID, &counter.LineID, &counter.StationID,
			&counter.Counter, &counter.CreatedAt, &counter.UpdatedAt); err != nil {
			return nil, fmt.Errorf("扫描线路计数失败: %w", err)
		}
		counters = append(counters, &counter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代线路计数失败: %w", err)
	}

	for _, counter := range counters {
		users, err := loadMembers(r.slaveDB, "line_counter_members", counter.ID)
		if err != nil {
			return nil, err
		}
		counter.Users = users
	}

	return counters, nil
}

// CreateLineCounterIfAbsent 插入计数为1的新记录
// 唯一索引冲突时返回ErrDuplicateKey，由调用方执行竞态恢复
func (r *MySQLRepository) CreateLineCounterIfAbsent(key counterkey.LineKey, firstUserID string) (*model.LineCounter, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("开始事务失败: %w", err)
	}

	now := time.Now()
	result, err := tx.Exec(
		`INSERT INTO line_counters (line_id, station_id, counter, created_at, updated_at) VALUES (?, ?, 1, ?, ?)`,
		key.LineID, key.StationID, now, now,
	)
	if err != nil {
		tx.Rollback()
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("创建线路计数失败: %w", err)
	}

	counterID, err := result.LastInsertId()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("获取新计数ID失败: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO line_counter_members (counter_id, user_id) VALUES (?, ?)`,
		counterID, firstUserID,
	); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("记录首个上报用户失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	return &model.LineCounter{
		ID:        counterID,
		LineID:    key.LineID,
		StationID: key.StationID,
		Counter:   1,
		Users:     []string{firstUserID},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ApplyLineReport 对已存在的记录做成员去重的原子自增
// 用户已是成员时不报错，返回added=false
func (r *MySQLRepository) ApplyLineReport(key counterkey.LineKey, userID string) (*model.LineCounter, bool, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("开始事务失败: %w", err)
	}

	var counterID int64
	err = tx.QueryRow(
		`SELECT id FROM line_counters WHERE line_id = ? AND station_id = ? FOR UPDATE`,
		key.LineID, key.StationID,
	).Scan(&counterID)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("锁定线路计数失败: %w", err)
	}

	result, err := tx.Exec(
		`INSERT IGNORE INTO line_counter_members (counter_id, user_id) VALUES (?, ?)`,
		counterID, userID,
	)
	if err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("添加上报用户失败: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("获取成员写入结果失败: %w", err)
	}
	added := rowsAffected > 0

	if added {
		if err := syncCounterValue(tx, "line_counters", "line_counter_members", counterID); err != nil {
			tx.Rollback()
			return nil, false, err
		}
	}

	counter, err := r.getLineCounter(tx, key)
	if err != nil {
		tx.Rollback()
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("提交事务失败: %w", err)
	}

	return counter, added, nil
}

// ApplyLineRetraction 移除上报用户并同步计数
// 最后一个成员离开时直接删除整条记录，返回deleted=true
func (r *MySQLRepository) ApplyLineRetraction(key counterkey.LineKey, userID string) (*model.LineCounter, bool, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("开始事务失败: %w", err)
	}

	var counterID int64
	err = tx.QueryRow(
		`SELECT id FROM line_counters WHERE line_id = ? AND station_id = ? FOR UPDATE`,
		key.LineID, key.StationID,
	).Scan(&counterID)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("锁定线路计数失败: %w", err)
	}

	if _, err := tx.Exec(
		`DELETE FROM line_counter_members WHERE counter_id = ? AND user_id = ?`,
		counterID, userID,
	); err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("移除上报用户失败: %w", err)
	}

	var remaining int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM line_counter_members WHERE counter_id = ?`, counterID,
	).Scan(&remaining); err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("统计剩余成员失败: %w", err)
	}

	// 成员清空时删除记录，不保留计数为0的幽灵记录
	if remaining == 0 {
		if _, err := tx.Exec(`DELETE FROM line_counters WHERE id = ?`, counterID); err != nil {
			tx.Rollback()
			return nil, false, fmt.Errorf("删除空计数记录失败: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("提交事务失败: %w", err)
		}
		return nil, true, nil
	}

	if err := syncCounterValue(tx, "line_counters", "line_counter_members", counterID); err != nil {
		tx.Rollback()
		return nil, false, err
	}

	counter, err := r.getLineCounter(tx, key)
	if err != nil {
		tx.Rollback()
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("提交事务失败: %w", err)
	}

	return counter, false, nil
}

// FindRouteCounter 按复合键查询路线计数，无副作用
func (r *MySQLRepository) FindRouteCounter(key counterkey.RouteKey) (*model.RouteCounter, error) {
	return r.getRouteCounter(r.slaveDB, key)
}

func (r *MySQLRepository) getRouteCounter(q querier, key counterkey.RouteKey) (*model.RouteCounter, error) {
	query := `SELECT id, station_id, station_name, line_short_name, line_long_name, agency_name,
			 route_mkt, route_direction, counter, created_at, updated_at
			 FROM route_counters WHERE station_id = ? AND route_mkt = ? AND route_direction = ?`
	row := q.QueryRow(query, key.StationID, key.RouteMkt, key.RouteDirection)

	var counter model.RouteCounter
	err := row.Scan(&counter.ID, &counter.StationID, &counter.StationName,
		&counter.LineShortName, &counter.LineLongName, &counter.AgencyName,
		&counter.RouteMkt, &counter.RouteDirection, &counter.Counter,
		&counter.CreatedAt, &counter.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询路线计数失败: %w", err)
	}

	users, err := loadMembers(q, "route_counter_members", counter.ID)
	if err != nil {
		return nil, err
	}
	counter.Users = users

	return &counter, nil
}

// ListRouteCounters 按计数降序返回路线计数列表
func (r *MySQLRepository) ListRouteCounters(limit int) ([]*model.RouteCounter, error) {
	query := `SELECT id, station_id, station_name, line_short_name, line_long_name, agency_name,
			 route_mkt, route_direction, counter, created_at, updated_at
			 FROM route_counters ORDER BY counter DESC LIMIT ?`

	rows, err := r.slaveDB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("查询路线计数列表失败: %w", err)
	}
	defer rows.Close()

	var counters []*model.RouteCounter
	for rows.Next() {
		var counter model.RouteCounter
		if err := rows.Scan(&counter.ID, &counter.StationID, &counter.StationName,
			&counter.LineShortName, &counter.LineLongName, &counter.AgencyName,
			&counter.RouteMkt, &counter.RouteDirection, &counter.Counter,
			&counter.CreatedAt, &counter.UpdatedAt); err != nil {
			return nil, fmt.Errorf("扫描路线计数失败: %w", err)
		}
		counters = append(counters, &counter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代路线计数失败: %w", err)
	}

	for _, counter := range counters {
		users, err := loadMembers(r.slaveDB, "route_counter_members", counter.ID)
		if err != nil {
			return nil, err
		}
		counter.Users = users
	}

	return counters, nil
}

// CreateRouteCounterIfAbsent 插入计数为1的新路线计数
func (r *MySQLRepository) CreateRouteCounterIfAbsent(key counterkey.RouteKey, meta model.RouteCounterMeta, firstUserID string) (*model.RouteCounter, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("开始事务失败: %w", err)
	}

	now := time.Now()
	result, err := tx.Exec(
		`INSERT INTO route_counters
		 (station_id, station_name, line_short_name, line_long_name, agency_name, route_mkt, route_direction, counter, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		key.StationID, meta.StationName, meta.LineShortName, meta.LineLongName,
		meta.AgencyName, key.RouteMkt, key.RouteDirection, now, now,
	)
	if err != nil {
		tx.Rollback()
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("创建路线计数失败: %w", err)
	}

	counterID, err := result.LastInsertId()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("获取新计数ID失败: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO route_counter_members (counter_id, user_id) VALUES (?, ?)`,
		counterID, firstUserID,
	); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("记录首个上报用户失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	return &model.RouteCounter{
		ID:             counterID,
		StationID:      key.StationID,
		StationName:    meta.StationName,
		LineShortName:  meta.LineShortName,
		LineLongName:   meta.LineLongName,
		AgencyName:     meta.AgencyName,
		RouteMkt:       key.RouteMkt,
		RouteDirection: key.RouteDirection,
		Counter:        1,
		Users:          []string{firstUserID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ApplyRouteReport 对已存在的路线计数做成员去重的原子自增
func (r *MySQLRepository) ApplyRouteReport(key counterkey.RouteKey, userID string) (*model.RouteCounter, bool, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("开始事务失败: %w", err)
	}

	var counterID int64
	err = tx.QueryRow(
		`SELECT id FROM route_counters WHERE station_id = ? AND route_mkt = ? AND route_direction = ? FOR UPDATE`,
		key.StationID, key.RouteMkt, key.RouteDirection,
	).Scan(&counterID)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("锁定路线计数失败: %w", err)
	}

	result, err := tx.Exec(
		`INSERT IGNORE INTO route_counter_members (counter_id, user_id) VALUES (?, ?)`,
		counterID, userID,
	)
	if err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("添加上报用户失败: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("获取成员写入结果失败: %w", err)
	}
	added := rowsAffected > 0

	if added {
		if err := syncCounterValue(tx, "route_counters", "route_counter_members", counterID); err != nil {
			tx.Rollback()
			return nil, false, err
		}
	}

	counter, err := r.getRouteCounter(tx, key)
	if err != nil {
		tx.Rollback()
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("提交事务失败: %w", err)
	}

	return counter, added, nil
}

// ApplyRouteRetraction 移除路线计数的上报用户
func (r *MySQLRepository) ApplyRouteRetraction(key counterkey.RouteKey, userID string) (*model.RouteCounter, bool, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("开始事务失败: %w", err)
	}

	var counterID int64
	err = tx.QueryRow(
		`SELECT id FROM route_counters WHERE station_id = ? AND route_mkt = ? AND route_direction = ? FOR UPDATE`,
		key.StationID, key.RouteMkt, key.RouteDirection,
	).Scan(&counterID)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("锁定路线计数失败: %w", err)
	}

	if _, err := tx.Exec(
		`DELETE FROM route_counter_members WHERE counter_id = ? AND user_id = ?`,
		counterID, userID,
	); err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("移除上报用户失败: %w", err)
	}

	var remaining int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM route_counter_members WHERE counter_id = ?`, counterID,
	).Scan(&remaining); err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("统计剩余成员失败: %w", err)
	}

	if remaining == 0 {
		if _, err := tx.Exec(`DELETE FROM route_counters WHERE id = ?`, counterID); err != nil {
			tx.Rollback()
			return nil, false, fmt.Errorf("删除空计数记录失败: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("提交事务失败: %w", err)
		}
		return nil, true, nil
	}

	if err := syncCounterValue(tx, "route_counters", "route_counter_members", counterID); err != nil {
		tx.Rollback()
		return nil, false, err
	}

	counter, err := r.getRouteCounter(tx, key)
	if err != nil {
		tx.Rollback()
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("提交事务失败: %w", err)
	}

	return counter, false, nil
}

// syncCounterValue 把计数字段同步为成员数量，两个变体统一采用该口径
func syncCounterValue(tx *sql.Tx, counterTable, memberTable string, counterID int64) error {
	query := fmt.Sprintf(
		`UPDATE %s SET counter = (SELECT COUNT(*) FROM %s WHERE counter_id = ?), updated_at = ? WHERE id = ?`,
		counterTable, memberTable,
	)
	if _, err := tx.Exec(query, counterID, time.Now(), counterID); err != nil {
		return fmt.Errorf("同步计数值失败: %w", err)
	}
	return nil
}

// loadMembers 读取计数记录的成员集合
func loadMembers(q querier, memberTable string, counterID int64) ([]string, error) {
	query := fmt.Sprintf(`SELECT user_id FROM %s WHERE counter_id = ? ORDER BY user_id`, memberTable)
	rows, err := q.Query(query, counterID)
	if err != nil {
		return nil, fmt.Errorf("查询计数成员失败: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("扫描计数成员失败: %w", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代计数成员失败: %w", err)
	}

	return users, nil
}

// UpsertStations 批量写入车站目录，由播种实例调用
func (r *MySQLRepository) UpsertStations(stations []*model.Station) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO stations (id, date, code, lat, lon, name, city) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		 date = VALUES(date), code = VALUES(code), lat = VALUES(lat),
		 lon = VALUES(lon), name = VALUES(name), city = VALUES(city)`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("准备车站写入语句失败: %w", err)
	}
	defer stmt.Close()

	for _, station := range stations {
		if _, err := stmt.Exec(station.ID, station.Date, station.Code,
			station.Lat, station.Lon, station.Name, station.City); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入车站 %d 失败: %w", station.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// ListStations 按精确条件过滤车站目录
func (r *MySQLRepository) ListStations(city string, code int64, limit, offset int) ([]*model.Station, error) {
	query := `SELECT id, date, code, lat, lon, name, city FROM stations WHERE 1=1`
	args := []interface{}{}

	if city != "" {
		query += " AND city = ?"
		args = append(args, city)
	}
	if code > 0 {
		query += " AND code = ?"
		args = append(args, code)
	}

	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.slaveDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询车站目录失败: %w", err)
	}
	defer rows.Close()

	var stations []*model.Station
	for rows.Next() {
		var station model.Station
		if err := rows.Scan(&station.ID, &station.Date, &station.Code,
			&station.Lat, &station.Lon, &station.Name, &station.City); err != nil {
			return nil, fmt.Errorf("扫描车站失败: %w", err)
		}
		stations = append(stations, &station)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代车站失败: %w", err)
	}

	return stations, nil
}

// UpsertBusRoutes 批量写入线路-车站文档
func (r *MySQLRepository) UpsertBusRoutes(routes []*model.BusRoute) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO bus_routes (bus_line_id, stations) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE stations = VALUES(stations)`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("准备线路写入语句失败: %w", err)
	}
	defer stmt.Close()

	for _, route := range routes {
		data, err := json.Marshal(route.Stations)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("序列化线路车站列表失败: %w", err)
		}
		if _, err := stmt.Exec(route.BusLineID, data); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入线路 %s 失败: %w", route.BusLineID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// ListBusRoutes 读取全部线路-车站文档
func (r *MySQLRepository) ListBusRoutes() ([]*model.BusRoute, error) {
	rows, err := r.slaveDB.Query(`SELECT bus_line_id, stations FROM bus_routes ORDER BY bus_line_id`)
	if err != nil {
		return nil, fmt.Errorf("查询线路列表失败: %w", err)
	}
	defer rows.Close()

	var routes []*model.BusRoute
	for rows.Next() {
		var route model.BusRoute
		var data []byte
		if err := rows.Scan(&route.BusLineID, &data); err != nil {
			return nil, fmt.Errorf("扫描线路失败: %w", err)
		}
		if err := json.Unmarshal(data, &route.Stations); err != nil {
			return nil, fmt.Errorf("解析线路车站列表失败: %w", err)
		}
		routes = append(routes, &route)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代线路失败: %w", err)
	}

	return routes, nil
}

// AppendReportLog 写入上报日志（由Kafka消费者调用）
func (r *MySQLRepository) AppendReportLog(event *model.CounterEvent) error {
	entry := model.ReportLogFromEvent(event)

	_, err := r.masterDB.Exec(
		`INSERT INTO report_logs (variant, action, counter_key, user_id, reported_at) VALUES (?, ?, ?, ?, ?)`,
		entry.Variant, entry.Action, entry.CounterKey, entry.UserID, entry.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("写入上报日志失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}
