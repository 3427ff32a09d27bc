package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/arencloud/s3keeper/internal/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

const slowQuery = 500 * time.Millisecond

// gormLogger forwards gorm output to the structured logger. Raw SQL is never
// logged because bound values may include credential rows.
type gormLogger struct {
	l     logging.Logger
	level logger.LogLevel
}

func newGormLogger(l logging.Logger, lvl logger.LogLevel) *gormLogger {
	return &gormLogger{l: l, level: lvl}
}

func (g *gormLogger) LogMode(l logger.LogLevel) logger.Interface {
	cp := *g
	cp.level = l
	return &cp
}

func (g *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Info {
		g.l.Info("gorm", "msg", msg, "args", data)
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Warn {
		g.l.Warn("gorm", "msg", msg, "args", data)
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Error {
		g.l.Error("gorm", "msg", msg, "args", data)
	}
}

// Trace logs each statement as op/table with duration and row count.
func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	sql, rows := fc()
	dur := time.Since(begin)
	op, table := summarizeSQL(sql)
	fields := []any{"op", op, "table", table, "rows", rows, "durationMs", float64(dur) / 1e6, "caller", utils.FileWithLineNum()}

	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
		if g.level >= logger.Info {
			g.l.Debug("gorm_sql", append(fields, "notFound", true)...)
		}
	case err != nil:
		if g.level >= logger.Error {
			g.l.Error("gorm_sql", append(fields, "error", err.Error())...)
		}
	case dur > slowQuery && g.level >= logger.Warn:
		g.l.Warn("gorm_slow_sql", fields...)
	case g.level >= logger.Info:
		g.l.Debug("gorm_sql", fields...)
	}
}

// summarizeSQL returns the statement verb and target table, e.g. "UPDATE", "credentials".
func summarizeSQL(sql string) (op string, table string) {
	q := strings.Fields(strings.ToUpper(sql))
	if len(q) == 0 {
		return "", ""
	}
	op = q[0]
	next := -1
	switch {
	case op == "UPDATE":
		next = 1
	case len(q) > 2 && (op == "INSERT" || op == "DELETE") && (q[1] == "INTO" || q[1] == "FROM"):
		next = 2
	default:
		for i, w := range q {
			if w == "FROM" || w == "INTO" || w == "TABLE" {
				next = i + 1
				break
			}
		}
	}
	if next > 0 && next < len(q) {
		table = strings.Trim(q[next], "`\"")
	}
	return op, strings.ToLower(table)
}
